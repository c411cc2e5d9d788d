package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/onionhost/internal/database"
	"github.com/nao1215/onionhost/internal/hiddenservice"
	"github.com/nao1215/onionhost/internal/model"
)

// fakeService is an onion service backed by a loopback listener. Dialing
// its address stands in for a Tor client reaching the onion address.
type fakeService struct {
	listener  net.Listener
	name      string
	closeOnce sync.Once
}

func (s *fakeService) OnionName() (string, error) { return s.name, nil }

func (s *fakeService) Accept() (net.Conn, error) { return s.listener.Accept() }

func (s *fakeService) Close() error {
	s.closeOnce.Do(func() { s.listener.Close() })
	return nil
}

// fakeTor is a TorClient that publishes fakeServices. The onion host is
// derived from the nickname so that restarts keep the address.
type fakeTor struct {
	mu        sync.Mutex
	embedded  bool
	launchErr error
	services  []*fakeService
	closed    bool
}

func (f *fakeTor) LaunchOnionService(_ context.Context, req hiddenservice.OnionServiceRequest) (hiddenservice.OnionService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.launchErr != nil {
		return nil, f.launchErr
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
	svc := &fakeService{listener: listener, name: name}
	f.services = append(f.services, svc)
	return svc, nil
}

func (f *fakeTor) SocksAddr() string { return "127.0.0.1:9050" }

func (f *fakeTor) Embedded() bool { return f.embedded }

func (f *fakeTor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTor) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// serviceAddr returns the loopback address of the last published service.
func (f *fakeTor) serviceAddr(t *testing.T) string {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.services) == 0 {
		t.Fatal("no onion service launched")
	}
	return f.services[len(f.services)-1].listener.Addr().String()
}

func hostForNickname(nickname string) (string, error) {
	key := bytes.Repeat([]byte{0}, 32)
	copy(key, nickname)
	return model.ComputeV3Host(key)
}

// fakeFetcher records the URL it was asked for.
type fakeFetcher struct {
	mu     sync.Mutex
	urls   []string
	status int
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.status, f.err
}

// failingLedger fails every call.
type failingLedger struct{}

func (failingLedger) LatestPublication(context.Context, string) (*database.Publication, error) {
	return nil, errLedger
}

func (failingLedger) RecordPublication(context.Context, *database.Publication) (int64, error) {
	return 0, errLedger
}

func (failingLedger) MarkStopped(context.Context, int64, time.Time) error {
	return errLedger
}

var (
	errLedger    = errors.New("database is locked")
	errBootstrap = errors.New("tor exited during bootstrap")
)
