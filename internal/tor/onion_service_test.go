package tor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/onionhost/internal/hiddenservice"
	"github.com/nao1215/onionhost/internal/model"
)

func TestLaunchOnionService(t *testing.T) {
	t.Parallel()

	t.Run("first launch generates and persists a key", func(t *testing.T) {
		t.Parallel()

		control := &fakeControl{}
		c := newTestClient(t, t.TempDir(), control)

		svc, err := c.LaunchOnionService(context.Background(), hiddenservice.OnionServiceRequest{Nickname: "blog", OnionPort: 80})
		if err != nil {
			t.Fatalf("LaunchOnionService() error = %v", err)
		}
		t.Cleanup(func() { _ = svc.Close() })

		cfg := control.lastConfig(t)
		if cfg.PrivateKey() != "" {
			t.Errorf("first launch sent key %q, want NEW", cfg.PrivateKey())
		}
		if cfg.KeyType() != "ED25519-V3" {
			t.Errorf("KeyType() = %q", cfg.KeyType())
		}
		if _, ok := cfg.Ports()[80]; !ok {
			t.Errorf("Ports() = %v, want virtual port 80", cfg.Ports())
		}

		key, err := c.KeyStore().Load("blog")
		if err != nil || len(key) == 0 {
			t.Fatalf("key was not persisted: %q, %v", key, err)
		}

		name, err := svc.OnionName()
		if err != nil {
			t.Fatalf("OnionName() error = %v", err)
		}
		if !isOnionHost(name) {
			t.Errorf("OnionName() = %q is not a v3 host", name)
		}
	})

	t.Run("relaunch reuses the stored key and address", func(t *testing.T) {
		t.Parallel()

		control := &fakeControl{}
		c := newTestClient(t, t.TempDir(), control)
		req := hiddenservice.OnionServiceRequest{Nickname: "blog", OnionPort: 80}

		first, err := c.LaunchOnionService(context.Background(), req)
		if err != nil {
			t.Fatalf("first launch: %v", err)
		}
		firstName, _ := first.OnionName()
		if err := first.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		second, err := c.LaunchOnionService(context.Background(), req)
		if err != nil {
			t.Fatalf("second launch: %v", err)
		}
		t.Cleanup(func() { _ = second.Close() })
		secondName, _ := second.OnionName()

		if firstName != secondName {
			t.Errorf("address changed across launches: %s then %s", firstName, secondName)
		}
		sent := control.lastConfig(t).PrivateKey()
		if sent == "" {
			t.Error("second launch did not send the stored key")
		}
		// tornago prepends the key type when building ADD_ONION.
		if strings.HasPrefix(sent, "ED25519-V3:") {
			t.Errorf("stored key sent with its type prefix: %q", sent)
		}
		if control.generated != 1 {
			t.Errorf("generated %d keys, want 1", control.generated)
		}
	})

	t.Run("forwards onion port to the service listener", func(t *testing.T) {
		t.Parallel()

		control := &fakeControl{}
		c := newTestClient(t, t.TempDir(), control)

		svc, err := c.LaunchOnionService(context.Background(), hiddenservice.OnionServiceRequest{Nickname: "blog", OnionPort: 8080})
		if err != nil {
			t.Fatalf("LaunchOnionService() error = %v", err)
		}
		t.Cleanup(func() { _ = svc.Close() })

		target := control.lastConfig(t).Ports()[8080]
		go func() {
			conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(target))) //nolint:noctx // test code
			if err == nil {
				conn.Close()
			}
		}()

		conn, err := svc.Accept()
		if err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
		conn.Close()
	})

	t.Run("close removes the service and ends accept", func(t *testing.T) {
		t.Parallel()

		control := &fakeControl{}
		c := newTestClient(t, t.TempDir(), control)

		svc, err := c.LaunchOnionService(context.Background(), hiddenservice.OnionServiceRequest{Nickname: "blog", OnionPort: 80})
		if err != nil {
			t.Fatalf("LaunchOnionService() error = %v", err)
		}
		if err := svc.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if err := svc.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}
		if n := control.services[0].removeCount(); n != 1 {
			t.Errorf("DEL_ONION issued %d times, want 1", n)
		}
		if _, err := svc.Accept(); err == nil {
			t.Error("Accept() after Close should fail")
		}
		if key := svc.(*onionService).key; key != nil {
			t.Error("key material still referenced after Close")
		}
	})

	t.Run("invalid nickname is a config error", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, t.TempDir(), &fakeControl{})
		_, err := c.LaunchOnionService(context.Background(), hiddenservice.OnionServiceRequest{Nickname: "../x", OnionPort: 80})
		if !errors.Is(err, model.ErrConfig) {
			t.Errorf("error = %v, want ErrConfig", err)
		}
	})

	t.Run("ADD_ONION failure is a launch error", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, t.TempDir(), &fakeControl{createErr: errors.New("552 unrecognized key")})
		_, err := c.LaunchOnionService(context.Background(), hiddenservice.OnionServiceRequest{Nickname: "blog", OnionPort: 80})
		if !errors.Is(err, model.ErrLaunch) {
			t.Errorf("error = %v, want ErrLaunch", err)
		}
	})

	t.Run("closed client refuses to launch", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, t.TempDir(), &fakeControl{})
		_ = c.Close()
		_, err := c.LaunchOnionService(context.Background(), hiddenservice.OnionServiceRequest{Nickname: "blog", OnionPort: 80})
		if !errors.Is(err, ErrClientClosed) || !errors.Is(err, model.ErrLaunch) {
			t.Errorf("error = %v, want ErrClientClosed launch error", err)
		}
	})
}

// TestManagerCyclesKeepAddress runs the hidden service manager against the
// Tor launcher several times over one data directory.
func TestManagerCyclesKeepAddress(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(upstream.Close)
	upstreamPort := upstream.Listener.Addr().(*net.TCPAddr).Port

	dataDir := t.TempDir()
	control := &fakeControl{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var want string
	for i := range 3 {
		c := newTestClient(t, dataDir, control)
		cfg, err := hiddenservice.NewConfig(dataDir, upstreamPort, 80, "")
		if err != nil {
			t.Fatalf("NewConfig() error = %v", err)
		}
		m := hiddenservice.NewManager(cfg, hiddenservice.WithLogger(logger))

		if err := m.Start(context.Background(), c, upstreamPort, 80); err != nil {
			t.Fatalf("cycle %d: Start() error = %v", i, err)
		}
		url, ok := m.OnionURL()
		if !ok {
			t.Fatalf("cycle %d: no onion URL", i)
		}
		if i == 0 {
			want = url
		} else if url != want {
			t.Errorf("cycle %d: URL %s, want %s", i, url, want)
		}

		bridgePort := control.lastConfig(t).Ports()[80]
		if err := m.Stop(context.Background()); err != nil {
			t.Fatalf("cycle %d: Stop() error = %v", i, err)
		}
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(bridgePort))
		if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
			conn.Close()
			t.Errorf("cycle %d: bridge port %d still bound after Stop", i, bridgePort)
		}
		_ = c.Close()
	}
}
