// Package forkdaemon turns a long running program into a detached Unix
// daemon that is controlled through a pidfile and POSIX signals.
//
// Supported systems
//
// 	- Linux
// 	- macOS
//
// Usage
//
// The top-level package provides the following:
// 	- Daemonizer
// 	- Application
//
// Daemonizer runs the daemonization sequence. The program re-executes
// itself twice (Go cannot safely fork a running runtime): the first copy
// applies resource limits, the second creates a new session, and the third
// redirects its standard streams, writes the pidfile, installs the signal
// handlers, drops privileges and finally runs the Application.
//
// Once running, the daemon reacts to exactly three signals:
// 	- SIGUSR1 calls Application.Reload
// 	- SIGUSR2 calls Application.Status
// 	- SIGTERM calls Application.Stop and then exits 0
//
// The Application interface is used by the Daemonizer to run your
// application code as a daemon. Implement this interface in your
// application, or use HookFuncs.
//
// The 'forkdaemon/control' subpackage implements the start, stop, status
// and reload actions on top of the pidfile. The 'forkdaemon/cli' subpackage
// wraps both in a ready-made command line.
package forkdaemon
