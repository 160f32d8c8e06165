//go:build linux || darwin

package forkdaemon

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// registerSignals starts queueing the control signals. They are handled
// once handleSignals runs.
func (o *Daemonizer) registerSignals() {
	signal.Notify(o.signals, unix.SIGUSR1, unix.SIGUSR2, unix.SIGTERM)
}

// handleSignals runs the hooks for incoming signals one at a time.
func (o *Daemonizer) handleSignals() {
	for sig := range o.signals {
		o.handleSignal(sig)
	}
}

func (o *Daemonizer) handleSignal(sig os.Signal) {
	switch sig {
	case unix.SIGUSR1:
		o.reload()
	case unix.SIGUSR2:
		o.status()
	case unix.SIGTERM:
		o.stop()
	default:
		o.logger.Warn("ignoring unexpected signal", "signal", sig.String())
	}
}

func (o *Daemonizer) reload() {
	defer o.cleanupOnPanic("reload")

	o.logger.Debug("received SIGUSR1, calling reload hook")

	notifyReloading(o.logger)
	err := o.app.Reload()
	notifyReloaded(o.logger)

	if err != nil {
		o.logger.Error("reload hook failed", "error", err)
	}
}

func (o *Daemonizer) status() {
	defer o.cleanupOnPanic("status")

	o.logger.Debug("received SIGUSR2, calling status hook")

	err := o.app.Status()
	if err != nil {
		o.logger.Error("status hook failed", "error", err)
	}
}

// stop calls the stop hook and exits 0, even if the hook fails or panics.
func (o *Daemonizer) stop() {
	if !o.state.CompareAndSwap(int32(Running), int32(StopRequested)) {
		o.logger.Debug("received SIGTERM, daemon is already exiting")
		return
	}

	o.logger.Debug("received SIGTERM, calling stop hook")
	notifyStopping(o.logger)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("stop hook panicked", "panic", r)
		}

		o.state.Store(int32(Stopped))
		o.logger.Info("daemon stopped, exiting", "exit_code", int(ExitOK))
		o.exitWith(ExitOK)

		// Only reached when exit does not end the process.
		o.stoppedOnce.Do(func() {
			close(o.stopped)
		})
	}()

	err := o.app.Stop()
	if err != nil {
		o.logger.Error("stop hook failed", "error", err)
	}
}
