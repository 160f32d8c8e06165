package forkdaemon

import (
	"errors"
)

// UnknownActionError is returned by ParseAction.
type UnknownActionError struct {
	action string
}

func (o *UnknownActionError) Error() string {
	return "unknown action - '" + o.action + "' (expected one of " + ActionsString() + ")"
}

// FatalError reports a daemonization step that failed. The process exits
// with Code after logging it.
type FatalError struct {
	Step string
	Code ExitCode
	Err  error
}

func (o *FatalError) Error() string {
	return "failed to " + o.Step + " - " + o.Err.Error()
}

func (o *FatalError) Unwrap() error {
	return o.Err
}

func fatal(code ExitCode, step string, err error) error {
	return &FatalError{
		Step: step,
		Code: code,
		Err:  err,
	}
}

// ExitCodeOf returns the exit code carried by a FatalError within err, or
// fallback if there is none.
func ExitCodeOf(err error, fallback ExitCode) ExitCode {
	var fatalErr *FatalError
	if errors.As(err, &fatalErr) {
		return fatalErr.Code
	}

	return fallback
}
