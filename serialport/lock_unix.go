//go:build unix

package serialport

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockPath takes an exclusive advisory lock on the device at path. The lock
// lives as long as the returned file stays open.
func lockPath(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("port busy: locked by another process: %w", err)
		}

		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	return f, nil
}
