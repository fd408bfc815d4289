//go:build !unix

package serialport

import "os"

// lockPath is a no-op: on Windows the serial device is opened with a zero
// share mode, which already makes the handle exclusive.
func lockPath(string) (*os.File, error) {
	return nil, nil
}
