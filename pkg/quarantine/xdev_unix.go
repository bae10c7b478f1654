//go:build unix

package quarantine

import (
	"errors"
	"os"
	"syscall"
)

func isCrossDevice(err *os.LinkError) bool {
	return errors.Is(err.Err, syscall.EXDEV)
}
