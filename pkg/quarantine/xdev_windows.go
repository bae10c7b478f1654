//go:build windows

package quarantine

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

func isCrossDevice(err *os.LinkError) bool {
	return errors.Is(err.Err, windows.ERROR_NOT_SAME_DEVICE)
}
