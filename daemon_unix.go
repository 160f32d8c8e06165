//go:build linux || darwin

package forkdaemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stephen-fox/forkdaemon/internal/osutil"
	"github.com/stephen-fox/forkdaemon/pidfile"
)

const (
	signalBufferSize = 16
)

// processStage is captured once because the daemon clears the stage
// marker from its environment.
var processStage = currentStage()

// RunState tracks a daemon's shutdown progress.
type RunState int32

const (
	Running RunState = iota
	StopRequested
	Stopped
)

func (o RunState) String() string {
	switch o {
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	case Stopped:
		return "stopped"
	}

	return "unknown"
}

// StreamSink is told about the new standard output once the daemon's
// standard streams have been redirected. *logging.Manager satisfies it.
type StreamSink interface {
	Retarget(w io.Writer)
}

// Option customizes a Daemonizer.
type Option func(*Daemonizer)

// WithLogger sets the logger used by the Daemonizer.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemonizer) {
		d.logger = logger
	}
}

// WithStreamSink registers a sink that follows standard output across
// stream redirection.
func WithStreamSink(sink StreamSink) Option {
	return func(d *Daemonizer) {
		d.sink = sink
	}
}

// Daemonizer runs an Application as a detached daemon.
//
// Gotchas
//
// RunUntilExit does not return in the invoking process or in the
// intermediate session leader; both exit 0 once they have started the next
// stage. In the final daemon process it only returns if the Config's
// ExitOnStartSuccess is false (or on a failure, in which case the process
// exits instead when it can). Because the program is re-executed with the
// same arguments, it must reach RunUntilExit again in each copy, and it
// must not do work with side effects before that point.
type Daemonizer struct {
	config  Config
	app     Application
	logger  *slog.Logger
	sink    StreamSink
	pidFile *pidfile.PIDFile
	stage   stage
	signals chan os.Signal
	// state moves out of Running exactly once, either to StopRequested
	// by the stop handler or to Stopped by runApplication.
	state       atomic.Int32
	stopped     chan struct{}
	stoppedOnce sync.Once
	cleanupMu   sync.Mutex
	cleanups    []func()
	cleanupOnce sync.Once
	exit        func(int)
}

// NewDaemonizer returns a Daemonizer that will run app using config.
func NewDaemonizer(config Config, app Application, options ...Option) (*Daemonizer, error) {
	if app == nil {
		return nil, errors.New("application must not be nil")
	}

	err := config.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid daemon config - %w", err)
	}

	d := &Daemonizer{
		config:  config,
		app:     app,
		logger:  slog.Default(),
		pidFile: pidfile.New(config.PIDFilePath),
		stage:   processStage,
		signals: make(chan os.Signal, signalBufferSize),
		stopped: make(chan struct{}),
		exit:    os.Exit,
	}

	for _, option := range options {
		option(d)
	}

	return d, nil
}

// PIDFile returns the pidfile used by the Daemonizer.
func (o *Daemonizer) PIDFile() *pidfile.PIDFile {
	return o.pidFile
}

// IsDaemon reports whether the Daemonizer is running in the final daemon
// process.
func (o *Daemonizer) IsDaemon() bool {
	return o.stage == stageDaemon
}

// State returns the current RunState.
func (o *Daemonizer) State() RunState {
	return RunState(o.state.Load())
}

// Wait blocks until the daemon has stopped. Programs that disable
// ExitOnStartSuccess call it after RunUntilExit to keep the daemon alive.
// In practice it never returns: the stop handler ends the process.
func (o *Daemonizer) Wait() {
	<-o.stopped
}

// RunUntilExit runs the daemonization stage the current process is in.
// A failed step is logged and ends the process with the step's exit code.
func (o *Daemonizer) RunUntilExit() error {
	var err error

	switch o.stage {
	case stageInvoker:
		err = o.detachInvoker()
	case stageSessionLeader:
		err = o.detachSessionLeader()
	case stageDaemon:
		err = o.runDaemon()
	default:
		err = fmt.Errorf("unknown daemonization stage %d", o.stage)
	}

	if err != nil {
		var fatalErr *FatalError
		if errors.As(err, &fatalErr) {
			o.logger.Error("daemonization failed, exiting",
				"stage", o.stage.String(),
				"step", fatalErr.Step,
				"exit_code", int(fatalErr.Code),
				"error", fatalErr.Err)
			o.exitWith(fatalErr.Code)
		}

		return err
	}

	return nil
}

func (o *Daemonizer) detachInvoker() error {
	before, after, err := osutil.SetOpenFileLimit(o.config.MaxOpenFiles)
	if err != nil {
		return fatal(ExitLimitsFailed, "set open file limit", err)
	}

	o.logger.Debug("set open file limit",
		"before_soft", before.Soft,
		"before_hard", before.Hard,
		"after_soft", after.Soft,
		"after_hard", after.Hard)

	pid, err := respawn(stageSessionLeader)
	if err != nil {
		return fatal(ExitForkFailed, "start session leader process", err)
	}

	o.logger.Debug("started session leader process, exiting", "child_pid", pid)
	o.exitWith(ExitOK)

	return nil
}

func (o *Daemonizer) detachSessionLeader() error {
	err := osutil.NewSession(o.config.ChangeDir)
	if err != nil {
		return fatal(ExitSessionFailed, "create new session", err)
	}

	pid, err := respawn(stageDaemon)
	if err != nil {
		return fatal(ExitSecondForkFailed, "start daemon process", err)
	}

	o.logger.Debug("started daemon process, exiting", "child_pid", pid)
	o.exitWith(ExitOK)

	return nil
}

func (o *Daemonizer) runDaemon() error {
	os.Unsetenv(StageEnvVar)
	os.Unsetenv(WorkDirEnvVar)

	o.logger = o.logger.With("run_id", uuid.NewString())

	strategy, err := osutil.RedirectStreams(o.config.StdinPath, o.config.StdoutPath, o.config.StderrPath)
	if err != nil {
		return fatal(ExitRedirectFailed, "redirect standard streams", err)
	}

	if o.sink != nil {
		o.sink.Retarget(os.Stdout)
	}

	o.logger.Debug("redirected standard streams",
		"strategy", strategy.String(),
		"stdin", o.config.StdinPath,
		"stdout", o.config.StdoutPath,
		"stderr", o.config.StderrPath)

	pid := os.Getpid()

	o.addCleanup(func() {
		if current, ok := o.pidFile.Read(); ok && current != pid {
			o.logger.Warn("pidfile belongs to another process, leaving it",
				"pidfile", o.pidFile.Path(), "pidfile_pid", current)
			return
		}

		err := o.pidFile.Remove()
		if err != nil {
			o.logger.Error("failed to remove pidfile", "error", err)
		}
	})

	// Control commands may signal the daemon as soon as the pidfile
	// exists. Registering first queues those signals instead of letting
	// the default disposition kill the process.
	o.registerSignals()

	err = o.pidFile.Write(pid)
	if err != nil {
		return fatal(ExitPidfileFailed, "write pidfile", err)
	}

	go o.handleSignals()

	err = osutil.DropPrivileges(o.config.User, o.config.Group)
	if err != nil {
		return fatal(ExitPrivilegesFailed, "drop privileges", err)
	}

	o.logger.Info("daemon started", "pid", pid, "pidfile", o.pidFile.Path())
	notifyReady(o.logger, pid)

	return o.runApplication()
}

func (o *Daemonizer) runApplication() error {
	defer o.cleanupOnPanic("start")

	o.logger.Debug("calling start hook")

	err := o.app.Start()
	if err == nil && !o.config.ExitOnStartSuccess {
		o.logger.Debug("start hook returned, daemon keeps running")
		return nil
	}

	// Start hooks often return (possibly with an error such as
	// http.ErrServerClosed) because the stop hook told them to. The
	// stop handler then owns the exit and uses code 0 once the stop hook
	// is done.
	if !o.state.CompareAndSwap(int32(Running), int32(Stopped)) {
		o.logger.Debug("start hook returned during stop, waiting for it", "error", err)
		o.Wait()
		return nil
	}

	if err != nil {
		return fatal(ExitStartFailed, "start application", err)
	}

	o.logger.Debug("start hook returned, exiting", "exit_code", int(ExitOK))
	o.exitWith(ExitOK)

	return nil
}

// cleanupOnPanic runs the exit cleanups if the calling hook panics and
// then lets the panic continue.
func (o *Daemonizer) cleanupOnPanic(hook string) {
	r := recover()
	if r == nil {
		return
	}

	o.logger.Error(hook+" hook panicked", "panic", r)
	o.runCleanups()

	panic(r)
}

func (o *Daemonizer) addCleanup(fn func()) {
	o.cleanupMu.Lock()
	defer o.cleanupMu.Unlock()

	o.cleanups = append(o.cleanups, fn)
}

// exitWith runs the registered cleanups once, in reverse order, and ends
// the process. os.Exit skips deferred calls, so every exit of the daemon
// must go through here.
func (o *Daemonizer) exitWith(code ExitCode) {
	o.runCleanups()
	o.exit(int(code))
}

func (o *Daemonizer) runCleanups() {
	o.cleanupOnce.Do(func() {
		o.cleanupMu.Lock()
		cleanups := o.cleanups
		o.cleanupMu.Unlock()

		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	})
}
