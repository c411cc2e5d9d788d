package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so callers can use
// errors.Is() for programmatic handling while still printing a readable message.
var (
	// ErrInvalidUpstreamPort is returned when the upstream port is outside 1-65535.
	ErrInvalidUpstreamPort = errors.New("invalid upstream port: must be between 1 and 65535")

	// ErrInvalidOnionPort is returned when the onion virtual port is outside 1-65535.
	ErrInvalidOnionPort = errors.New("invalid onion port: must be between 1 and 65535")

	// ErrNoTorDataDir is returned when no Tor data directory is configured.
	// Key material lives there, so running without one would change the
	// onion address on every start.
	ErrNoTorDataDir = errors.New("no tor data directory configured")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrIncompleteExternalTor is returned when external Tor mode lacks either
	// the SOCKS address or the ControlPort address.
	ErrIncompleteExternalTor = errors.New("external tor requires both --tor-socks and --tor-control addresses")

	// ErrInvalidReadinessAttempts is returned when readiness polling is enabled
	// with a non-positive attempt budget.
	ErrInvalidReadinessAttempts = errors.New("invalid readiness attempts: must be positive")

	// ErrInvalidConnectionLimit is returned when a connection bound is not positive.
	ErrInvalidConnectionLimit = errors.New("invalid connection limit: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
