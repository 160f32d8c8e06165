package forkdaemon

import (
	"log/slog"
)

// Application is the code run by a Daemonizer.
//
// Start is called on the main goroutine once the process is fully
// detached. It may either return quickly after starting its own goroutines
// or block until Stop tells it to finish. The other three methods are
// called from the signal goroutine, one at a time, and may run while Start
// is still running. Implementations must synchronize their own state.
//
// Errors from Reload and Status are logged. An error from Stop is logged
// and the daemon exits 0 regardless. An error from Start makes the daemon
// exit with ExitStartFailed, unless a stop is in progress: then the daemon
// waits for Stop and exits 0. A panic in Start, Reload or Status removes
// the pidfile before it crashes the process.
type Application interface {
	// Start runs the application.
	Start() error

	// Stop is called on SIGTERM. The process exits once it returns.
	Stop() error

	// Reload is called on SIGUSR1.
	Reload() error

	// Status is called on SIGUSR2. Control commands send SIGUSR2 to
	// find out whether the daemon is alive, so Status must be cheap.
	Status() error
}

// NopApplication is an Application whose methods only log that they ran.
// Embed it to implement a subset of the methods.
type NopApplication struct {
	Logger *slog.Logger
}

func (o NopApplication) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}

	return o.Logger
}

func (o NopApplication) Start() error {
	o.logger().Info("base start hook called")
	return nil
}

func (o NopApplication) Stop() error {
	o.logger().Info("base stop hook called")
	return nil
}

func (o NopApplication) Reload() error {
	o.logger().Info("base reload hook called")
	return nil
}

func (o NopApplication) Status() error {
	o.logger().Info("base status hook called")
	return nil
}

// HookFuncs adapts up to four functions to the Application interface.
// A nil function falls back to the NopApplication behavior.
type HookFuncs struct {
	OnStart  func() error
	OnStop   func() error
	OnReload func() error
	OnStatus func() error
	Logger   *slog.Logger
}

func (o HookFuncs) Start() error {
	if o.OnStart == nil {
		return NopApplication{Logger: o.Logger}.Start()
	}

	return o.OnStart()
}

func (o HookFuncs) Stop() error {
	if o.OnStop == nil {
		return NopApplication{Logger: o.Logger}.Stop()
	}

	return o.OnStop()
}

func (o HookFuncs) Reload() error {
	if o.OnReload == nil {
		return NopApplication{Logger: o.Logger}.Reload()
	}

	return o.OnReload()
}

func (o HookFuncs) Status() error {
	if o.OnStatus == nil {
		return NopApplication{Logger: o.Logger}.Status()
	}

	return o.OnStatus()
}
