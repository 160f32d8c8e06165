package forkdaemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stephen-fox/forkdaemon/internal/logging"
)

const (
	Start  Action = "start"
	Stop   Action = "stop"
	Status Action = "status"
	Reload Action = "reload"

	DefaultStreamPath   = "/dev/null"
	DefaultLogLevel     = "INFO"
	DefaultMaxOpenFiles = 1048576
	DefaultStopTimeout  = 15 * time.Second
)

// Action is one of the four control verbs.
type Action string

func (o Action) string() string {
	return string(o)
}

// ParseAction converts s to an Action. Anything other than the four known
// verbs is rejected.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions() {
		if s == a {
			return Action(a), nil
		}
	}

	return "", &UnknownActionError{action: s}
}

// ActionsString returns the supported actions as a quoted, comma separated
// list suitable for usage messages.
func ActionsString() string {
	return "'" + strings.Join(Actions(), "', '") + "'"
}

func Actions() []string {
	return []string{
		Start.string(),
		Stop.string(),
		Status.string(),
		Reload.string(),
	}
}

// Config configures a Daemonizer and the control commands that locate it.
// It is treated as immutable once resolved.
type Config struct {
	// PIDFilePath is the path to the pidfile. It is required.
	PIDFilePath string

	// StdinPath, StdoutPath and StderrPath are the files the daemon's
	// standard streams are redirected to.
	StdinPath  string
	StdoutPath string
	StderrPath string

	// LogFilePath, when non-empty, sends log output to a file instead of
	// stdout. The status action ignores it.
	LogFilePath string
	LogLevel    string

	// MaxOpenFiles is applied as both the soft and the hard limit on open
	// file descriptors before detaching.
	MaxOpenFiles uint64

	// ChangeDir makes the daemon change its working directory to "/".
	ChangeDir bool

	// ExitOnStartSuccess makes the daemon exit 0 once the Application's
	// Start method returns without error.
	ExitOnStartSuccess bool

	// User and Group name the credentials the daemon switches to after
	// writing its pidfile. Either may be empty.
	User  string
	Group string

	// StopTimeout bounds how long the stop action waits for the daemon
	// to exit after sending SIGTERM.
	StopTimeout time.Duration
}

// DefaultConfig returns a Config with every optional field set to its
// default. The pidfile path still needs to be set.
func DefaultConfig() Config {
	return Config{
		StdinPath:          DefaultStreamPath,
		StdoutPath:         DefaultStreamPath,
		StderrPath:         DefaultStreamPath,
		LogLevel:           DefaultLogLevel,
		MaxOpenFiles:       DefaultMaxOpenFiles,
		ExitOnStartSuccess: true,
		StopTimeout:        DefaultStopTimeout,
	}
}

// Validate checks the invariants of the Config.
func (o Config) Validate() error {
	var errs []error

	if len(strings.TrimSpace(o.PIDFilePath)) == 0 {
		errs = append(errs, errors.New("a pidfile path must be specified"))
	}

	if len(o.StdinPath) == 0 || len(o.StdoutPath) == 0 || len(o.StderrPath) == 0 {
		errs = append(errs, errors.New("standard stream paths must not be empty"))
	}

	if _, ok := logging.ParseLevel(o.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log level '%s' (expected one of %s)",
			o.LogLevel, strings.Join(logging.LevelNames(), ", ")))
	}

	if o.MaxOpenFiles == 0 {
		errs = append(errs, errors.New("max open files must be greater than zero"))
	}

	if o.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout must be greater than zero"))
	}

	return errors.Join(errs...)
}

// WithAbsolutePaths returns a copy of the Config whose relative file paths
// are resolved against dir.
func (o Config) WithAbsolutePaths(dir string) Config {
	abs := func(p string) string {
		if len(p) == 0 || filepath.IsAbs(p) {
			return p
		}

		return filepath.Join(dir, p)
	}

	o.PIDFilePath = abs(o.PIDFilePath)
	o.StdinPath = abs(o.StdinPath)
	o.StdoutPath = abs(o.StdoutPath)
	o.StderrPath = abs(o.StderrPath)
	o.LogFilePath = abs(o.LogFilePath)

	return o
}

// DefaultPidFilePath returns a conventional pidfile path for a daemon
// named serviceName, e.g. '/var/run/mydaemon.pid'.
func DefaultPidFilePath(serviceName string) string {
	return fmt.Sprintf("/var/run/%s.pid", serviceName)
}
