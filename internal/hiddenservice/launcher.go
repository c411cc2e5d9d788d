package hiddenservice

import (
	"context"
	"net"
)

// OnionServiceRequest describes the onion service a Launcher should publish.
type OnionServiceRequest struct {
	// Nickname identifies the service's key material across restarts.
	Nickname string
	// OnionPort is the virtual port exposed on the onion address.
	OnionPort int
}

// OnionService is a published onion service.
//
// Accept returns the next rendezvous connection from a Tor client. The
// stream is lazy and unbounded. Once the service is closed Accept returns
// an error wrapping net.ErrClosed; any other error is transient.
type OnionService interface {
	OnionName() (string, error)
	Accept() (net.Conn, error)
	Close() error
}

// Launcher publishes onion services.
type Launcher interface {
	LaunchOnionService(ctx context.Context, req OnionServiceRequest) (OnionService, error)
}

// Status is the read-only view of a Manager that other components need.
type Status interface {
	OnionURL() (string, bool)
	IsRunning() bool
}
