package tor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/tornago"
)

const (
	// onionServicesDir is the directory under the data dir holding per-service keys.
	onionServicesDir = "onion_services"
	// secretKeyFile is the file name of a service's private key.
	secretKeyFile = "hs_ed25519_secret_key"
	// keyType is the only key type onionhost publishes.
	keyType = "ED25519-V3"
)

// keyPrefix is prepended to the key blob in Tor's control protocol.
const keyPrefix = keyType + ":"

// KeyStore persists onion service private keys, one per nickname, in the
// format tornago reads and writes.
type KeyStore struct {
	dir string
}

// NewKeyStore returns a KeyStore rooted at <dataDir>/onion_services.
func NewKeyStore(dataDir string) *KeyStore {
	return &KeyStore{dir: filepath.Join(dataDir, onionServicesDir)}
}

// Path returns the key file location for nickname.
func (s *KeyStore) Path(nickname string) string {
	return filepath.Join(s.dir, nickname, secretKeyFile)
}

// Load returns the base64 key blob stored for nickname, without the
// "ED25519-V3:" prefix, ready for tornago.WithHiddenServicePrivateKey,
// which adds the key type itself. It returns nil and no error when no key
// exists yet. The caller owns the returned slice and should zero it.
func (s *KeyStore) Load(nickname string) ([]byte, error) {
	path := s.Path(nickname)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	stored, err := tornago.LoadPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read onion service key: %w", err)
	}

	blob := strings.TrimPrefix(strings.TrimSpace(stored), keyPrefix)
	if blob == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidKey, path)
	}
	return []byte(blob), nil
}

// Save stores the private key of hs for nickname. The key is written by
// tornago next to its final location and renamed into place, so a crash
// never leaves a truncated key behind.
func (s *KeyStore) Save(nickname string, hs tornago.HiddenService) error {
	if strings.TrimPrefix(strings.TrimSpace(hs.PrivateKey()), keyPrefix) == "" {
		return fmt.Errorf("%w: refusing to store an empty key", ErrInvalidKey)
	}

	path := s.Path(nickname)
	if err := os.MkdirAll(filepath.Dir(path), dataDirPerm); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), secretKeyFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}

	if err := hs.SavePrivateKey(tmpName); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

// zero overwrites b in place.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
