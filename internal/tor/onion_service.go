package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nao1215/tornago"

	"github.com/nao1215/onionhost/internal/hiddenservice"
	"github.com/nao1215/onionhost/internal/model"
)

// removeTimeout bounds DEL_ONION during Close.
const removeTimeout = 30 * time.Second

var _ hiddenservice.Launcher = (*Client)(nil)

// LaunchOnionService publishes an onion service for req.Nickname.
//
// Tor forwards req.OnionPort to a loopback listener owned by the returned
// service; its Accept yields the rendezvous connections. The service key is
// read from the key store, or generated by Tor and saved on first launch,
// so the address is stable for a given data directory and nickname.
func (c *Client) LaunchOnionService(ctx context.Context, req hiddenservice.OnionServiceRequest) (hiddenservice.OnionService, error) {
	const op = "tor.Client.LaunchOnionService"

	if c.isClosed() {
		return nil, model.NewError(model.KindLaunch, op, "", ErrClientClosed)
	}
	if c.control == nil {
		return nil, model.NewError(model.KindLaunch, op, "", ErrNoControlPort)
	}
	if err := hiddenservice.ValidateNickname(req.Nickname); err != nil {
		return nil, err
	}

	key, err := c.keys.Load(req.Nickname)
	if err != nil {
		return nil, model.NewError(model.KindLaunch, op, "failed to load service key", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // loopback bridge endpoint
	if err != nil {
		zero(key)
		return nil, model.NewError(model.KindLaunch, op, "failed to bind bridge listener", err)
	}
	bridgePort := listener.Addr().(*net.TCPAddr).Port

	hsOpts := []tornago.HiddenServiceOption{
		tornago.WithHiddenServiceKeyType(keyType),
		tornago.WithHiddenServicePort(req.OnionPort, bridgePort),
	}
	if key != nil {
		hsOpts = append(hsOpts, tornago.WithHiddenServicePrivateKey(string(key)))
	}
	hsCfg, err := tornago.NewHiddenServiceConfig(hsOpts...)
	if err != nil {
		listener.Close()
		zero(key)
		return nil, model.NewError(model.KindLaunch, op, "invalid onion service config", err)
	}

	hs, err := c.control.CreateHiddenService(ctx, hsCfg)
	if err != nil {
		listener.Close()
		zero(key)
		return nil, model.NewError(model.KindLaunch, op, "ADD_ONION failed", err)
	}

	if key == nil {
		if err := c.keys.Save(req.Nickname, hs); err != nil {
			c.removeService(hs)
			listener.Close()
			return nil, model.NewError(model.KindLaunch, op, "failed to persist service key", err)
		}
		c.logger.Info("generated new onion service key", "nickname", req.Nickname)
	}

	c.logger.Debug("onion service created",
		"nickname", req.Nickname,
		"onion_port", req.OnionPort,
		"bridge_port", bridgePort)

	return &onionService{
		hs:       hs,
		listener: listener,
		key:      key,
		remove:   c.removeService,
	}, nil
}

func (c *Client) removeService(hs tornago.HiddenService) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := hs.Remove(ctx); err != nil {
		c.logger.Warn("failed to remove onion service", "error", err)
	}
}

// onionService is a published service plus the loopback listener Tor
// forwards its virtual port to.
type onionService struct {
	hs       tornago.HiddenService
	listener net.Listener
	remove   func(tornago.HiddenService)

	mu     sync.Mutex
	key    []byte
	closed bool
}

// OnionName returns the service's .onion host name.
func (s *onionService) OnionName() (string, error) {
	name := s.hs.OnionAddress()
	if name == "" {
		return "", errors.New("tor returned no service id")
	}
	return name, nil
}

// Accept returns the next rendezvous connection.
func (s *onionService) Accept() (net.Conn, error) {
	conn, err := s.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("onion service accept: %w", err)
	}
	return conn, nil
}

// Close removes the service from Tor, closes the listener and zeroes the
// in-memory key. It is safe to call more than once.
func (s *onionService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	zero(s.key)
	s.key = nil
	s.mu.Unlock()

	s.remove(s.hs)
	return s.listener.Close()
}
