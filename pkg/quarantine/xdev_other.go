//go:build !unix && !windows

package quarantine

import "os"

func isCrossDevice(err *os.LinkError) bool {
	return false
}
