//go:build linux || darwin

package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stephen-fox/forkdaemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// deadPID is above the largest pid_max any kernel allows.
const deadPID = 99999999

type fakeDaemonizer struct {
	calls int
	err   error
}

func (o *fakeDaemonizer) RunUntilExit() error {
	o.calls++
	return o.err
}

func newTestController(t *testing.T, daemonizer Daemonizer) *PIDFileController {
	t.Helper()

	config := forkdaemon.DefaultConfig()
	config.PIDFilePath = filepath.Join(t.TempDir(), "test.pid")
	config.StopTimeout = 2 * time.Second

	controller, err := NewController(config, daemonizer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return controller
}

// catchSignal keeps sig from terminating the test process and returns a
// channel that receives it.
func catchSignal(t *testing.T, sig os.Signal) <-chan os.Signal {
	t.Helper()

	ch := make(chan os.Signal, 4)
	signal.Notify(ch, sig)
	t.Cleanup(func() {
		signal.Stop(ch)
	})

	return ch
}

func requireSignal(t *testing.T, ch <-chan os.Signal, want os.Signal) {
	t.Helper()

	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive %s", want)
	}
}

// startChild starts a long running child process and reaps it in the
// background so that it does not linger as a zombie.
func startChild(t *testing.T, script string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command("sh", "-c", script)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)

	go cmd.Wait()

	t.Cleanup(func() {
		_ = cmd.Process.Kill()
	})

	return cmd
}

func TestNewController_InvalidConfig(t *testing.T) {
	_, err := NewController(forkdaemon.DefaultConfig(), nil, nil)
	assert.ErrorContains(t, err, "pidfile")
}

func TestStatus_NoPidfile(t *testing.T) {
	controller := newTestController(t, nil)

	result, err := controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitNotRunning, result.Code)
	assert.Equal(t, Stopped, result.Status)
}

func TestStatus_StalePidfile(t *testing.T) {
	controller := newTestController(t, nil)
	require.NoError(t, controller.pidFile.Write(deadPID))

	result, err := controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitNotRunningStale, result.Code)
	assert.Equal(t, StoppedDead, result.Status)
	assert.Equal(t, deadPID, result.PID)
	assert.True(t, controller.pidFile.Exists())
}

func TestStatus_Running(t *testing.T) {
	signals := catchSignal(t, unix.SIGUSR2)

	controller := newTestController(t, nil)
	require.NoError(t, controller.pidFile.Write(os.Getpid()))

	result, err := controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.Equal(t, Running, result.Status)
	requireSignal(t, signals, unix.SIGUSR2)
}

func TestStatus_PermissionDeniedIsUnknown(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root may signal any process")
	}

	if err := unix.Kill(1, 0); err == nil {
		t.Skip("pid 1 belongs to the current user")
	}

	controller := newTestController(t, nil)
	require.NoError(t, controller.pidFile.Write(1))

	result, err := controller.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, forkdaemon.ExitStatusUnknown, result.Code)
	assert.Equal(t, Unknown, result.Status)
}

func TestReload(t *testing.T) {
	signals := catchSignal(t, unix.SIGUSR1)

	t.Run("no pidfile", func(t *testing.T) {
		controller := newTestController(t, nil)

		result, err := controller.Reload(context.Background())
		require.NoError(t, err)
		assert.Equal(t, forkdaemon.ExitOK, result.Code)
		assert.Equal(t, Stopped, result.Status)
	})

	t.Run("stale pidfile", func(t *testing.T) {
		controller := newTestController(t, nil)
		require.NoError(t, controller.pidFile.Write(deadPID))

		result, err := controller.Reload(context.Background())
		require.NoError(t, err)
		assert.Equal(t, forkdaemon.ExitReloadNotRunning, result.Code)
		assert.True(t, controller.pidFile.Exists())
	})

	t.Run("running", func(t *testing.T) {
		controller := newTestController(t, nil)
		require.NoError(t, controller.pidFile.Write(os.Getpid()))

		result, err := controller.Reload(context.Background())
		require.NoError(t, err)
		assert.Equal(t, forkdaemon.ExitOK, result.Code)
		requireSignal(t, signals, unix.SIGUSR1)
	})
}

func TestStop_NoPidfile(t *testing.T) {
	controller := newTestController(t, nil)

	result, err := controller.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.Equal(t, Stopped, result.Status)
}

func TestStop_StalePidfileIsRemoved(t *testing.T) {
	controller := newTestController(t, nil)
	require.NoError(t, controller.pidFile.Write(deadPID))

	result, err := controller.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.False(t, controller.pidFile.Exists())
}

func TestStop_WaitsForExitAndRemovesPidfile(t *testing.T) {
	child := startChild(t, "echo ready; exec sleep 30")

	controller := newTestController(t, nil)
	require.NoError(t, controller.pidFile.Write(child.Process.Pid))

	result, err := controller.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.Equal(t, Stopped, result.Status)
	assert.False(t, controller.pidFile.Exists())
}

func TestStop_TimeoutKeepsPidfile(t *testing.T) {
	child := startChild(t, "trap '' TERM; echo ready; exec sleep 30")

	controller := newTestController(t, nil)
	controller.stopTimeout = 300 * time.Millisecond
	require.NoError(t, controller.pidFile.Write(child.Process.Pid))

	started := time.Now()
	result, err := controller.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.Equal(t, Running, result.Status)
	assert.True(t, controller.pidFile.Exists())
	assert.GreaterOrEqual(t, time.Since(started), 300*time.Millisecond)
}

func TestStop_ContextCancelled(t *testing.T) {
	child := startChild(t, "trap '' TERM; echo ready; exec sleep 30")

	controller := newTestController(t, nil)
	controller.stopTimeout = 10 * time.Second
	require.NoError(t, controller.pidFile.Write(child.Process.Pid))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := controller.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, forkdaemon.ExitControlFailed, result.Code)
	assert.True(t, controller.pidFile.Exists())
}

func TestStart_AlreadyRunning(t *testing.T) {
	signals := catchSignal(t, unix.SIGUSR2)

	daemonizer := &fakeDaemonizer{}
	controller := newTestController(t, daemonizer)
	require.NoError(t, controller.pidFile.Write(os.Getpid()))

	result, err := controller.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitAlreadyRunning, result.Code)
	assert.Equal(t, 0, daemonizer.calls)
	requireSignal(t, signals, unix.SIGUSR2)
}

func TestStart_RemovesStalePidfile(t *testing.T) {
	daemonizer := &fakeDaemonizer{}
	controller := newTestController(t, daemonizer)
	require.NoError(t, controller.pidFile.Write(deadPID))

	result, err := controller.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.Equal(t, 1, daemonizer.calls)
	assert.False(t, controller.pidFile.Exists())
}

func TestStart_DaemonizerFailure(t *testing.T) {
	daemonizer := &fakeDaemonizer{
		err: &forkdaemon.FatalError{
			Step: "redirect standard streams",
			Code: forkdaemon.ExitRedirectFailed,
			Err:  errors.New("no such file"),
		},
	}
	controller := newTestController(t, daemonizer)

	result, err := controller.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, forkdaemon.ExitRedirectFailed, result.Code)
}

func TestStart_RebornSkipsLivenessCheck(t *testing.T) {
	daemonizer := &fakeDaemonizer{}
	controller := newTestController(t, daemonizer)
	controller.reborn = true

	// The pidfile is not even read in a re-executed process.
	require.NoError(t, controller.pidFile.Write(deadPID))

	result, err := controller.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitOK, result.Code)
	assert.True(t, controller.pidFile.Exists())
}

func TestStart_WithoutDaemonizer(t *testing.T) {
	controller := newTestController(t, nil)

	result, err := controller.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, forkdaemon.ExitControlFailed, result.Code)
}

func TestLock_SerializesControlCommands(t *testing.T) {
	controller := newTestController(t, nil)
	controller.stopTimeout = 100 * time.Millisecond

	other := flock.New(controller.pidFile.Path() + lockFileSuffix)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = controller.Status(context.Background())
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, other.Unlock())

	result, err := controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitNotRunning, result.Code)
}

func TestLock_FileOutlivesStop(t *testing.T) {
	child := startChild(t, "echo ready; exec sleep 30")

	controller := newTestController(t, nil)
	require.NoError(t, controller.pidFile.Write(child.Process.Pid))

	result, err := controller.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, result.Status)
	assert.False(t, controller.pidFile.Exists())
	assert.FileExists(t, controller.pidFile.Path()+lockFileSuffix)

	// The kept file is reused by the next command.
	result, err = controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitNotRunning, result.Code)
}

func TestLock_MissingDirectoryRunsUnlocked(t *testing.T) {
	config := forkdaemon.DefaultConfig()
	config.PIDFilePath = filepath.Join(t.TempDir(), "missing", "test.pid")

	controller, err := NewController(config, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	result, err := controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forkdaemon.ExitNotRunning, result.Code)
}

type stubController struct {
	result Result
	err    error
	called string
}

func (o *stubController) Start(context.Context) (Result, error) {
	o.called = "start"
	return o.result, o.err
}

func (o *stubController) Stop(context.Context) (Result, error) {
	o.called = "stop"
	return o.result, o.err
}

func (o *stubController) Status(context.Context) (Result, error) {
	o.called = "status"
	return o.result, o.err
}

func (o *stubController) Reload(context.Context) (Result, error) {
	o.called = "reload"
	return o.result, o.err
}

func TestExecute(t *testing.T) {
	for _, action := range []forkdaemon.Action{forkdaemon.Start, forkdaemon.Stop, forkdaemon.Status, forkdaemon.Reload} {
		stub := &stubController{result: Result{Code: forkdaemon.ExitOK}}

		result, err := Execute(context.Background(), action, stub)
		require.NoError(t, err)
		assert.Equal(t, string(action), stub.called)
		assert.Equal(t, forkdaemon.ExitOK, result.Code)
	}

	stub := &stubController{
		result: Result{Code: forkdaemon.ExitStatusUnknown},
		err:    errors.New("boom"),
	}
	result, err := Execute(context.Background(), forkdaemon.Status, stub)
	assert.EqualError(t, err, "failed to get daemon status - boom")
	assert.Equal(t, forkdaemon.ExitStatusUnknown, result.Code)

	result, err = Execute(context.Background(), forkdaemon.Action("restart"), stub)
	assert.Error(t, err)
	assert.Equal(t, forkdaemon.ExitUsage, result.Code)
}
