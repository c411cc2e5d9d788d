package tor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/nao1215/onionhost/internal/model"
)

// dataDirPerm is the mode Tor requires for its DataDirectory.
const dataDirPerm = 0o700

// PrepareDataDir creates dir and restricts it to the owner, since Tor
// refuses a group- or world-readable data directory. The parent is
// restricted too, but only when this call created it; an existing parent
// such as /tmp belongs to someone else and is left alone. An existing
// sticky directory is refused as dir, because it is shared by design.
//
// Permissions are left alone on Windows, where POSIX modes do not apply.
func PrepareDataDir(dir string) error {
	const op = "tor.PrepareDataDir"

	if dir == "" {
		return model.NewError(model.KindBootstrap, op, "data directory is empty", nil)
	}
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)

	parentExisted, err := exists(parent)
	if err != nil {
		return model.NewError(model.KindBootstrap, op, fmt.Sprintf("failed to inspect %s", parent), err)
	}
	if info, err := os.Stat(dir); err == nil && info.Mode()&os.ModeSticky != 0 {
		return model.NewError(model.KindBootstrap, op,
			fmt.Sprintf("%s is a shared directory, use a directory below it", dir), nil)
	}

	if err := os.MkdirAll(dir, dataDirPerm); err != nil {
		return model.NewError(model.KindBootstrap, op, fmt.Sprintf("failed to create %s", dir), err)
	}
	if runtime.GOOS == "windows" {
		return nil
	}

	restrict := []string{dir}
	if !parentExisted {
		restrict = append(restrict, parent)
	}
	for _, path := range restrict {
		if err := os.Chmod(path, dataDirPerm); err != nil {
			return model.NewError(model.KindBootstrap, op, fmt.Sprintf("failed to restrict permissions of %s", path), err)
		}
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
