package forkdaemon

// ExitCode is a process exit status produced by a control action or by a
// failed daemonization step.
type ExitCode int

const (
	ExitOK ExitCode = 0

	// Start: a live daemon answered the status signal.
	ExitAlreadyRunning ExitCode = 1
	// Status: the pidfile names a process that no longer exists.
	ExitNotRunningStale ExitCode = 1
	// Start, stop or reload: a signal could not be delivered for a
	// reason other than the process being gone.
	ExitControlFailed ExitCode = 1

	// Reload: the pidfile names a process that no longer exists.
	ExitReloadNotRunning ExitCode = 2

	// Start: the pidfile could not be written.
	ExitPidfileFailed ExitCode = 3
	// Status: there is no pidfile.
	ExitNotRunning ExitCode = 3

	// Status: the status check failed unexpectedly.
	ExitStatusUnknown ExitCode = 4

	ExitForkFailed       ExitCode = 5
	ExitSessionFailed    ExitCode = 6
	ExitSecondForkFailed ExitCode = 7
	ExitRedirectFailed   ExitCode = 8
	ExitLimitsFailed     ExitCode = 9
	ExitPrivilegesFailed ExitCode = 10
	ExitStartFailed      ExitCode = 11

	// ExitUsage reports bad command line arguments or an invalid Config.
	ExitUsage ExitCode = 64
)
