package hiddenservice

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/nao1215/onionhost/internal/model"
)

// fakeService is an OnionService backed by a loopback listener. Dialing
// Addr() stands in for a Tor client reaching the onion address.
type fakeService struct {
	listener net.Listener
	name     string
	nameErr  error

	mu         sync.Mutex
	acceptErrs []error

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *fakeService) OnionName() (string, error) {
	if s.nameErr != nil {
		return "", s.nameErr
	}
	return s.name, nil
}

// Accept fails with the queued errors first, then accepts on the listener.
func (s *fakeService) Accept() (net.Conn, error) {
	s.mu.Lock()
	if len(s.acceptErrs) > 0 {
		err := s.acceptErrs[0]
		s.acceptErrs = s.acceptErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.listener.Accept()
}

func (s *fakeService) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.listener.Close()
	})
	return nil
}

func (s *fakeService) Addr() string {
	return s.listener.Addr().String()
}

func (s *fakeService) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeLauncher derives a stable onion host per nickname, the way Tor does
// when the same key material is reused.
type fakeLauncher struct {
	mu         sync.Mutex
	launchErr  error
	nameErr    error
	badName    bool
	acceptErrs []error
	requests  []OnionServiceRequest
	services  []*fakeService
}

func (l *fakeLauncher) LaunchOnionService(_ context.Context, req OnionServiceRequest) (OnionService, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests = append(l.requests, req)
	if l.launchErr != nil {
		return nil, l.launchErr
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		return nil, err
	}

	name, err := hostForNickname(req.Nickname)
	if err != nil {
		listener.Close()
		return nil, err
	}
	if l.badName {
		name = "not-an-onion-address"
	}

	svc := &fakeService{
		listener:   listener,
		name:       name,
		nameErr:    l.nameErr,
		acceptErrs: append([]error(nil), l.acceptErrs...),
		closed:     make(chan struct{}),
	}
	l.services = append(l.services, svc)
	return svc, nil
}

func (l *fakeLauncher) lastService(t *testing.T) *fakeService {
	t.Helper()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.services) == 0 {
		t.Fatal("launcher has not launched any service")
	}
	return l.services[len(l.services)-1]
}

func hostForNickname(nickname string) (string, error) {
	key := bytes.Repeat([]byte{0}, 32)
	copy(key, nickname)
	return model.ComputeV3Host(key)
}

var errLaunchFailed = errors.New("tor refused ADD_ONION")
