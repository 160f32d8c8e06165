//go:build linux || darwin

package osutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewSession detaches the calling process from its controlling terminal by
// creating a new session and clears the file mode creation mask. If chdir
// is true, the working directory is changed to "/" first.
func NewSession(chdir bool) error {
	if chdir {
		err := unix.Chdir("/")
		if err != nil {
			return fmt.Errorf("failed to change directory to / - %w", err)
		}
	}

	_, err := unix.Setsid()
	if err != nil {
		return fmt.Errorf("failed to create new session - %w", err)
	}

	unix.Umask(0)

	return nil
}
