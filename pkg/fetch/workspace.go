package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const timestampFormat = "20060102150405"

// Workspace is the directory pair of one scan run.
type Workspace struct {
	// Active receives downloads, e.g. certs_20240101120000.
	Active string
	// Quarantine is the sibling for rejected files, e.g.
	// certs_deleted_20240101120000.
	Quarantine string
}

// NewWorkspace creates <root>/<active>_<timestamp> and its quarantine
// sibling <root>/<quarantine>_<timestamp>. Existing directories are reused.
func NewWorkspace(root, active, quarantine string, now time.Time) (*Workspace, error) {
	stamp := now.Format(timestampFormat)
	ws := &Workspace{
		Active:     filepath.Join(root, active+"_"+stamp),
		Quarantine: filepath.Join(root, quarantine+"_"+stamp),
	}
	for _, dir := range []string{ws.Active, ws.Quarantine} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return ws, nil
}
