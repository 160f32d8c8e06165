//go:build linux || darwin

package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix    = ".lock"
	lockRetryInterval = 100 * time.Millisecond
	lockGrace         = time.Second
)

// ErrLocked is returned when another control command kept the pidfile lock
// for longer than the wait allowed.
var ErrLocked = errors.New("another control command holds the pidfile lock")

// acquire takes the advisory lock that serializes control commands for one
// pidfile. If the lock file cannot be opened at all (for example because
// the pidfile directory does not exist yet) the command runs unlocked.
func (o *PIDFileController) acquire(ctx context.Context) (release func(), err error) {
	lockCtx, cancel := context.WithTimeout(ctx, o.stopTimeout+lockGrace)
	defer cancel()

	locked, err := o.lock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		if lockCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("%w - '%s'", ErrLocked, o.lock.Path())
		}

		o.logger.Debug("pidfile lock unavailable, continuing without it",
			"lock", o.lock.Path(), "error", err)

		return func() {}, nil
	}

	if !locked {
		return nil, fmt.Errorf("%w - '%s'", ErrLocked, o.lock.Path())
	}

	return func() {
		err := o.lock.Unlock()
		if err != nil {
			o.logger.Warn("failed to release pidfile lock", "lock", o.lock.Path(), "error", err)
		}
	}, nil
}

func newLock(pidFilePath string) *flock.Flock {
	return flock.New(pidFilePath + lockFileSuffix)
}
