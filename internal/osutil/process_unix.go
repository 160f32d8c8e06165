//go:build linux || darwin

package osutil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// SignalProcess sends sig to pid. It reports false with a nil error when
// no such process exists. Any other delivery failure, including a lack of
// permission, is returned as an error.
func SignalProcess(pid int, sig unix.Signal) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("refusing to signal invalid pid %d", pid)
	}

	err := unix.Kill(pid, sig)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, unix.ESRCH) {
		return false, nil
	}

	return false, fmt.Errorf("failed to send %s to pid %d - %w", unix.SignalName(sig), pid, err)
}

func signalZeroExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
