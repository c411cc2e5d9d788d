package tor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nao1215/onionhost/internal/model"
)

func TestPrepareDataDir(t *testing.T) {
	t.Parallel()

	t.Run("restricts a created parent and the directory", func(t *testing.T) {
		t.Parallel()

		parent := filepath.Join(t.TempDir(), "onionhost")
		dir := filepath.Join(parent, "tor")

		if err := PrepareDataDir(dir); err != nil {
			t.Fatalf("PrepareDataDir() error = %v", err)
		}
		if runtime.GOOS == "windows" {
			return
		}
		for _, path := range []string{parent, dir} {
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat %s: %v", path, err)
			}
			if perm := info.Mode().Perm(); perm != 0o700 {
				t.Errorf("%s mode = %o, want 700", path, perm)
			}
		}
	})

	t.Run("leaves an existing shared parent alone", func(t *testing.T) {
		t.Parallel()

		if runtime.GOOS == "windows" {
			t.Skip("POSIX permissions only")
		}
		shared := filepath.Join(t.TempDir(), "shared")
		if err := os.Mkdir(shared, 0o700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.Chmod(shared, 0o777|os.ModeSticky); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		before, err := os.Stat(shared)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}

		dir := filepath.Join(shared, "onion")
		if err := PrepareDataDir(dir); err != nil {
			t.Fatalf("PrepareDataDir() error = %v", err)
		}

		after, err := os.Stat(shared)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if after.Mode() != before.Mode() {
			t.Errorf("parent mode changed from %v to %v", before.Mode(), after.Mode())
		}
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("data dir mode = %o, want 700", perm)
		}
	})

	t.Run("refuses a sticky directory as data dir", func(t *testing.T) {
		t.Parallel()

		if runtime.GOOS == "windows" {
			t.Skip("POSIX permissions only")
		}
		shared := filepath.Join(t.TempDir(), "shared")
		if err := os.Mkdir(shared, 0o700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.Chmod(shared, 0o777|os.ModeSticky); err != nil {
			t.Fatalf("chmod: %v", err)
		}

		if err := PrepareDataDir(shared); !errors.Is(err, model.ErrBootstrap) {
			t.Fatalf("expected ErrBootstrap, got %v", err)
		}
		info, err := os.Stat(shared)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode()&os.ModeSticky == 0 || info.Mode().Perm() != 0o777 {
			t.Errorf("shared dir mode changed to %v", info.Mode())
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "tor")
		for range 2 {
			if err := PrepareDataDir(dir); err != nil {
				t.Fatalf("PrepareDataDir() error = %v", err)
			}
		}
	})

	t.Run("empty path is a bootstrap error", func(t *testing.T) {
		t.Parallel()

		if err := PrepareDataDir(""); !errors.Is(err, model.ErrBootstrap) {
			t.Errorf("expected ErrBootstrap, got %v", err)
		}
	})

	t.Run("path below a file is a bootstrap error", func(t *testing.T) {
		t.Parallel()

		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := PrepareDataDir(filepath.Join(file, "tor")); !errors.Is(err, model.ErrBootstrap) {
			t.Errorf("expected ErrBootstrap, got %v", err)
		}
	})
}
