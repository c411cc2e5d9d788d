package model

import "fmt"

// ErrorKind classifies onionhost errors so that callers can decide which
// subsystem failed without parsing messages.
type ErrorKind string

// ErrorKind values mirror the failure points of the startup sequence.
const (
	// KindConfig indicates an invalid service identifier or forward rule.
	KindConfig ErrorKind = "config_error"
	// KindBootstrap indicates the Tor client could not be initialized.
	KindBootstrap ErrorKind = "bootstrap_error"
	// KindLaunch indicates the onion service could not be published.
	KindLaunch ErrorKind = "launch_error"
	// KindAddressResolution indicates the published address could not be obtained.
	KindAddressResolution ErrorKind = "address_resolution_error"
	// KindProxyBind indicates the local reverse proxy could not bind.
	KindProxyBind ErrorKind = "proxy_bind_error"
	// KindForward indicates a single proxied request failed.
	KindForward ErrorKind = "forward_error"
	// KindReadinessTimeout indicates the upstream never became ready.
	KindReadinessTimeout ErrorKind = "readiness_timeout"
)

// Error wraps an underlying error with a Kind and the operation that failed.
type Error struct {
	// Kind classifies the error.
	Kind ErrorKind
	// Op names the operation during which the error occurred.
	Op string
	// Msg carries an optional human-readable description.
	Msg string
	// Err is the wrapped cause, if any.
	Err error
}

// NewError constructs an Error.
func NewError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Error returns "op: kind: msg: cause", omitting empty parts.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	message := string(e.Kind)
	if e.Op != "" {
		message = fmt.Sprintf("%s: %s", e.Op, message)
	}
	if e.Msg != "" {
		message = fmt.Sprintf("%s: %s", message, e.Msg)
	}
	if e.Err != nil {
		message = fmt.Sprintf("%s: %s", message, e.Err)
	}
	return message
}

// Unwrap exposes the cause for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
// This lets callers write errors.Is(err, model.ErrLaunch).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind != "" && e.Kind == te.Kind
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrConfig            = &Error{Kind: KindConfig}
	ErrBootstrap         = &Error{Kind: KindBootstrap}
	ErrLaunch            = &Error{Kind: KindLaunch}
	ErrAddressResolution = &Error{Kind: KindAddressResolution}
	ErrProxyBind         = &Error{Kind: KindProxyBind}
	ErrForward           = &Error{Kind: KindForward}
	ErrReadinessTimeout  = &Error{Kind: KindReadinessTimeout}
)
