//go:build unix

package quarantine

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCrossDevice(t *testing.T) {
	assert.True(t, isCrossDevice(&os.LinkError{Op: "rename", Err: syscall.EXDEV}))
	assert.False(t, isCrossDevice(&os.LinkError{Op: "rename", Err: syscall.EACCES}))
	assert.False(t, isCrossDevice(&os.LinkError{Op: "rename", Err: syscall.ENOENT}))
}

func TestCopyAndRemoveKeepsSingleCopy(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "src")
	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	// the source cannot be unlinked from a read-only directory
	require.NoError(t, os.Chmod(srcDir, 0o500))
	t.Cleanup(func() { os.Chmod(srcDir, 0o700) })

	assert.Error(t, copyAndRemove(src, dst))
	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)
}
