//go:build linux || darwin

package osutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Limits is a soft / hard pair for the open file descriptor resource limit.
type Limits struct {
	Soft uint64
	Hard uint64
}

// OpenFileLimits returns the current RLIMIT_NOFILE values.
func OpenFileLimits() (Limits, error) {
	var rlim unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to get open file limits - %w", err)
	}

	return Limits{
		Soft: uint64(rlim.Cur),
		Hard: uint64(rlim.Max),
	}, nil
}

// SetOpenFileLimit sets both the soft and the hard RLIMIT_NOFILE value to
// max. It returns the limits observed before and after the change. Raising
// the hard limit usually requires super user privileges.
func SetOpenFileLimit(max uint64) (before Limits, after Limits, err error) {
	before, err = OpenFileLimits()
	if err != nil {
		return Limits{}, Limits{}, err
	}

	err = unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{
		Cur: max,
		Max: max,
	})
	if err != nil {
		after, _ = OpenFileLimits()
		return before, after, fmt.Errorf("failed to set open file limit to %d (soft: %d, hard: %d) - %w",
			max, after.Soft, after.Hard, err)
	}

	after, err = OpenFileLimits()
	if err != nil {
		return before, Limits{}, err
	}

	return before, after, nil
}
