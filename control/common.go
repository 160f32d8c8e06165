package control

import (
	"context"
	"fmt"

	"github.com/stephen-fox/forkdaemon"
)

const (
	Unknown     Status = "unknown"
	Running     Status = "running"
	Stopped     Status = "stopped"
	StoppedDead Status = "stopped_dead"
)

// Status represents the status of a daemon.
type Status string

func (o Status) String() string {
	return string(o)
}

// Result is the outcome of a control action.
type Result struct {
	// Code is the exit code the control command should finish with.
	Code forkdaemon.ExitCode

	// Status is the daemon's status as observed by the action.
	Status Status

	// PID is the process ID read from the pidfile, or zero.
	PID int
}

// Controller is an interface for controlling the state of a daemon.
//
// Be advised: signalling a daemon that runs as another user requires super
// user privileges.
type Controller interface {
	// Start starts the daemon unless it is already running.
	Start(ctx context.Context) (Result, error)

	// Stop asks the daemon to stop and waits for it to exit.
	Stop(ctx context.Context) (Result, error)

	// Status reports whether the daemon is running.
	Status(ctx context.Context) (Result, error)

	// Reload asks the daemon to reload.
	Reload(ctx context.Context) (Result, error)
}

// SupportedActionsString returns a printable string that represents a list
// of supported daemon control actions.
func SupportedActionsString() string {
	return forkdaemon.ActionsString()
}

// Execute executes a control action using the provided daemon controller.
// This helper function is used to turn raw user input (a command line
// argument, for example) into a Controller execution. The returned Result
// carries the exit code even when an error is returned.
//
// Please review the Controller documentation for more information.
func Execute(ctx context.Context, action forkdaemon.Action, controller Controller) (Result, error) {
	switch action {
	case forkdaemon.Status:
		result, err := controller.Status(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to get daemon status - %w", err)
		}

		return result, nil
	case forkdaemon.Start:
		result, err := controller.Start(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to start daemon - %w", err)
		}

		return result, nil
	case forkdaemon.Stop:
		result, err := controller.Stop(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to stop daemon - %w", err)
		}

		return result, nil
	case forkdaemon.Reload:
		result, err := controller.Reload(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to reload daemon - %w", err)
		}

		return result, nil
	}

	return Result{Code: forkdaemon.ExitUsage, Status: Unknown},
		fmt.Errorf("unknown daemon action '%s' (expected one of %s)", action, SupportedActionsString())
}
