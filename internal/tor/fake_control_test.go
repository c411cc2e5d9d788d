package tor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/tornago"

	"github.com/nao1215/onionhost/internal/model"
)

// fakeControl stands in for a Tor ControlPort. Addresses are derived from
// the key, so reusing a key reproduces the address as Tor would.
type fakeControl struct {
	mu        sync.Mutex
	phases    []string
	createErr error
	created   []tornago.HiddenServiceConfig
	services  []*fakeHiddenService
	generated int
}

func (f *fakeControl) GetInfo(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key != "status/bootstrap-phase" {
		return "", fmt.Errorf("unexpected GETINFO %s", key)
	}
	if len(f.phases) == 0 {
		return `NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY="Done"`, nil
	}
	phase := f.phases[0]
	if len(f.phases) > 1 {
		f.phases = f.phases[1:]
	}
	return phase, nil
}

func (f *fakeControl) CreateHiddenService(_ context.Context, cfg tornago.HiddenServiceConfig) (tornago.HiddenService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, cfg)
	if f.createErr != nil {
		return nil, f.createErr
	}

	key := cfg.PrivateKey()
	returned := key
	if key == "" {
		f.generated++
		key = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("generated-key-%d", f.generated)))
		returned = cfg.KeyType() + ":" + key
	}

	sum := sha256.Sum256([]byte(key))
	host, err := model.ComputeV3Host(sum[:])
	if err != nil {
		return nil, err
	}

	hs := &fakeHiddenService{
		address:    host,
		privateKey: returned,
		ports:      cfg.Ports(),
	}
	f.services = append(f.services, hs)
	return hs, nil
}

func (f *fakeControl) lastConfig(t *testing.T) tornago.HiddenServiceConfig {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		t.Fatal("no hidden service was created")
	}
	return f.created[len(f.created)-1]
}

type fakeHiddenService struct {
	mu         sync.Mutex
	address    string
	privateKey string
	ports      map[int]int
	removed    int
}

func (h *fakeHiddenService) OnionAddress() string { return h.address }

func (h *fakeHiddenService) PrivateKey() string { return h.privateKey }

func (h *fakeHiddenService) Ports() map[int]int { return h.ports }

func (h *fakeHiddenService) ClientAuth() []tornago.HiddenServiceAuth { return nil }

// SavePrivateKey writes the key the way tornago does.
func (h *fakeHiddenService) SavePrivateKey(path string) error {
	if h.privateKey == "" {
		return errors.New("no private key to save")
	}
	return os.WriteFile(path, []byte(h.privateKey), 0o600)
}

func (h *fakeHiddenService) Remove(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed++
	return nil
}

func (h *fakeHiddenService) removeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

// newTestClient returns a Client wired to control without a Tor process.
func newTestClient(t *testing.T, dataDir string, control onionController) *Client {
	t.Helper()

	return &Client{
		dataDir: dataDir,
		control: control,
		keys:    NewKeyStore(dataDir),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func isOnionHost(s string) bool {
	return strings.HasSuffix(s, ".onion") && model.IsValidV3Host(s)
}
