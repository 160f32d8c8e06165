//go:build linux || darwin

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/stephen-fox/forkdaemon"
	"github.com/stephen-fox/forkdaemon/internal/osutil"
	"github.com/stephen-fox/forkdaemon/pidfile"
	"golang.org/x/sys/unix"
)

const (
	stopPollInterval = 100 * time.Millisecond
)

// Daemonizer runs the daemonization sequence. *forkdaemon.Daemonizer
// satisfies it.
type Daemonizer interface {
	RunUntilExit() error
}

// PIDFileController implements Controller using a pidfile and signals:
// SIGUSR2 checks liveness, SIGUSR1 requests a reload and SIGTERM a stop.
type PIDFileController struct {
	pidFile      *pidfile.PIDFile
	lock         *flock.Flock
	daemonizer   Daemonizer
	stopTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	reborn       bool
}

// NewController returns a PIDFileController for the daemon described by
// config. daemonizer is only used by Start and may be nil otherwise.
func NewController(config forkdaemon.Config, daemonizer Daemonizer, logger *slog.Logger) (*PIDFileController, error) {
	err := config.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid daemon config - %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PIDFileController{
		pidFile:      pidfile.New(config.PIDFilePath),
		lock:         newLock(config.PIDFilePath),
		daemonizer:   daemonizer,
		stopTimeout:  config.StopTimeout,
		pollInterval: stopPollInterval,
		logger:       logger,
		reborn:       forkdaemon.WasReborn(),
	}, nil
}

// Start daemonizes the program unless the pidfile names a live process.
// A pidfile naming a process that no longer exists is removed first.
//
// In the invoking process and in the intermediate re-executed process the
// Daemonizer ends the process, so Start only returns in the final daemon
// process (and only if it does not exit on start success) or on failure.
func (o *PIDFileController) Start(ctx context.Context) (Result, error) {
	if o.daemonizer == nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown},
			errors.New("no daemonizer was provided to the controller")
	}

	if !o.reborn {
		release, err := o.acquire(ctx)
		if err != nil {
			return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown}, err
		}
		// Released by process exit when the Daemonizer detaches.
		defer release()

		if pid, ok := o.pidFile.Read(); ok {
			alive, err := osutil.SignalProcess(pid, unix.SIGUSR2)
			if err != nil {
				return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown, PID: pid}, err
			}

			if alive {
				o.logger.Info("daemon is already running", "pid", pid, "pidfile", o.pidFile.Path())
				return Result{Code: forkdaemon.ExitAlreadyRunning, Status: Running, PID: pid}, nil
			}

			o.logger.Info("pidfile names a process that is gone, removing it",
				"pid", pid, "pidfile", o.pidFile.Path())

			err = o.pidFile.Remove()
			if err != nil {
				return Result{Code: forkdaemon.ExitControlFailed, Status: StoppedDead, PID: pid}, err
			}
		}
	}

	err := o.daemonizer.RunUntilExit()
	if err != nil {
		return Result{
			Code:   forkdaemon.ExitCodeOf(err, forkdaemon.ExitControlFailed),
			Status: Unknown,
		}, err
	}

	return Result{Code: forkdaemon.ExitOK, Status: Running}, nil
}

// Stop sends SIGTERM to the daemon and polls until it exits or the stop
// timeout elapses. The pidfile is removed once the process is gone. Stop
// never force-kills: a timeout is logged and still counts as success.
func (o *PIDFileController) Stop(ctx context.Context) (Result, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown}, err
	}
	defer release()

	pid, ok := o.pidFile.Read()
	if !ok {
		o.logger.Info("daemon is not running", "pidfile", o.pidFile.Path())
		return Result{Code: forkdaemon.ExitOK, Status: Stopped}, nil
	}

	o.logger.Debug("sending SIGTERM", "pid", pid)

	alive, err := osutil.SignalProcess(pid, unix.SIGTERM)
	if err != nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown, PID: pid}, err
	}

	if !alive {
		o.logger.Info("daemon process is gone, removing pidfile", "pid", pid, "pidfile", o.pidFile.Path())
		return o.removeAfterStop(pid)
	}

	gone, err := o.waitForExit(ctx, pid)
	if err != nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown, PID: pid}, err
	}

	if !gone {
		o.logger.Warn("daemon did not exit before the stop timeout",
			"pid", pid, "timeout", o.stopTimeout.String())
		return Result{Code: forkdaemon.ExitOK, Status: Running, PID: pid}, nil
	}

	o.logger.Info("daemon stopped", "pid", pid)

	return o.removeAfterStop(pid)
}

func (o *PIDFileController) removeAfterStop(pid int) (Result, error) {
	err := o.pidFile.Remove()
	if err != nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Stopped, PID: pid}, err
	}

	return Result{Code: forkdaemon.ExitOK, Status: Stopped, PID: pid}, nil
}

// waitForExit polls until pid is gone, the stop timeout elapses, or ctx is
// done. It reports whether the process is gone.
func (o *PIDFileController) waitForExit(ctx context.Context, pid int) (bool, error) {
	deadline := time.NewTimer(o.stopTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		if !osutil.ProcessExists(pid) {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return !osutil.ProcessExists(pid), nil
		case <-ticker.C:
		}
	}
}

// Status checks the daemon with SIGUSR2. The exit codes follow the LSB
// init script conventions: 0 running, 1 dead with a pidfile, 3 not running
// and 4 unknown.
func (o *PIDFileController) Status(ctx context.Context) (Result, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return Result{Code: forkdaemon.ExitStatusUnknown, Status: Unknown}, err
	}
	defer release()

	pid, ok := o.pidFile.Read()
	if !ok {
		o.logger.Info("daemon is not running", "status", Stopped.String(), "pidfile", o.pidFile.Path())
		return Result{Code: forkdaemon.ExitNotRunning, Status: Stopped}, nil
	}

	alive, err := osutil.SignalProcess(pid, unix.SIGUSR2)
	if err != nil {
		return Result{Code: forkdaemon.ExitStatusUnknown, Status: Unknown, PID: pid}, err
	}

	if !alive {
		o.logger.Info("daemon is not running but its pidfile exists",
			"status", StoppedDead.String(), "pid", pid, "pidfile", o.pidFile.Path())
		return Result{Code: forkdaemon.ExitNotRunningStale, Status: StoppedDead, PID: pid}, nil
	}

	o.logger.Info("daemon is running", "status", Running.String(), "pid", pid)

	return Result{Code: forkdaemon.ExitOK, Status: Running, PID: pid}, nil
}

// Reload sends SIGUSR1 to the daemon.
func (o *PIDFileController) Reload(ctx context.Context) (Result, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown}, err
	}
	defer release()

	pid, ok := o.pidFile.Read()
	if !ok {
		o.logger.Warn("daemon is not running, nothing to reload", "pidfile", o.pidFile.Path())
		return Result{Code: forkdaemon.ExitOK, Status: Stopped}, nil
	}

	alive, err := osutil.SignalProcess(pid, unix.SIGUSR1)
	if err != nil {
		return Result{Code: forkdaemon.ExitControlFailed, Status: Unknown, PID: pid}, err
	}

	if !alive {
		o.logger.Info("daemon is not running but its pidfile exists",
			"pid", pid, "pidfile", o.pidFile.Path())
		return Result{Code: forkdaemon.ExitReloadNotRunning, Status: StoppedDead, PID: pid}, nil
	}

	o.logger.Info("sent reload signal", "pid", pid)

	return Result{Code: forkdaemon.ExitOK, Status: Running, PID: pid}, nil
}
