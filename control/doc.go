// Package control provides functionality for managing a daemon.
//
// The control subpackage provides the following interface:
// 	- Controller
//
// The Controller is used to control the state of a daemon. The provided
// implementation, PIDFileController, finds the daemon through its pidfile
// and talks to it with signals: SIGUSR2 to check that it is alive, SIGUSR1
// to make it reload and SIGTERM to make it stop. Control commands for the
// same pidfile are serialized with an advisory lock on '<pidfile>.lock'.
// The lock file is left in place after every command, including a
// successful stop. Deleting it would let a command that is waiting on the
// old file and a command that creates a new one both hold "the" lock.
//
// SystemdUnit generates a systemd service unit that drives the same
// control actions.
package control
