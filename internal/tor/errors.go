package tor

import "errors"

// Tor connectivity errors.
var (
	// ErrProxyNotTor is returned when the proxy address responds but does
	// not behave like a Tor SOCKS5 proxy.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// can be established.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress is returned when the proxy address is not host:port.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrClientClosed is returned when a closed Client is asked to launch a service.
	ErrClientClosed = errors.New("tor client is closed")

	// ErrNoControlPort is returned when the Tor client has no ControlPort connection.
	ErrNoControlPort = errors.New("tor client has no control port connection")

	// ErrInvalidKey is returned when a stored onion service key cannot be used.
	ErrInvalidKey = errors.New("invalid onion service key")
)

// ProxyStatus is the result of probing a SOCKS5 proxy.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the proxy is a working Tor SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType indicates something answered but it is not Tor.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect indicates no connection could be established.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout indicates the probe timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the error matching this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
