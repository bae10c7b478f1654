// Package quarantine moves rejected candidate files out of the active
// download directory into a sibling directory so they are kept as evidence.
package quarantine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultActiveMarker     = "certs"
	DefaultQuarantineMarker = "certs_deleted"
)

var ErrMoveFailed = errors.New("quarantine: move failed")

// Manager derives the quarantine directory of a file from its containing
// directory: the first occurrence of Active in the directory name is
// replaced by Quarantine, e.g. certs_20240101120000/a.pfx becomes
// certs_deleted_20240101120000/a.pfx.
type Manager struct {
	Active     string
	Quarantine string
}

// New returns a Manager using the default markers.
func New() *Manager {
	return &Manager{
		Active:     DefaultActiveMarker,
		Quarantine: DefaultQuarantineMarker,
	}
}

// Destination returns where path is moved to.
func (m *Manager) Destination(path string) (string, error) {
	if m.Active == "" || m.Active == m.Quarantine {
		return "", fmt.Errorf("%w: invalid markers %q/%q", ErrMoveFailed, m.Active, m.Quarantine)
	}

	dir := filepath.Dir(path)
	name := filepath.Base(dir)
	if !strings.Contains(name, m.Active) {
		return "", fmt.Errorf("%w: directory %q does not contain marker %q", ErrMoveFailed, dir, m.Active)
	}

	quarantineDir := filepath.Join(filepath.Dir(dir), strings.Replace(name, m.Active, m.Quarantine, 1))
	return filepath.Join(quarantineDir, filepath.Base(path)), nil
}

// Dir returns the quarantine directory paired with an active directory.
func (m *Manager) Dir(activeDir string) (string, error) {
	dest, err := m.Destination(filepath.Join(activeDir, "x"))
	if err != nil {
		return "", err
	}
	return filepath.Dir(dest), nil
}

// Move relocates path into its quarantine directory and returns the new
// location. An existing file at the destination is an error, never
// overwritten.
func (m *Manager) Move(path string) (string, error) {
	dest, err := m.Destination(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrMoveFailed, filepath.Dir(dest), err)
	}

	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%w: destination %s already exists", ErrMoveFailed, dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: stat %s: %v", ErrMoveFailed, dest, err)
	}

	if err := os.Rename(path, dest); err != nil {
		var linkErr *os.LinkError
		if !errors.As(err, &linkErr) || !isCrossDevice(linkErr) {
			return "", fmt.Errorf("%w: %v", ErrMoveFailed, err)
		}
		if err := copyAndRemove(path, dest); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMoveFailed, err)
		}
	}

	return dest, nil
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	if err := os.Remove(src); err != nil {
		// keep a single copy, in the active directory
		os.Remove(dst)
		return err
	}
	return nil
}
