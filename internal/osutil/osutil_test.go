//go:build linux

package osutil

import (
	"errors"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const deadPID = 99999999

func TestParseStatState(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    byte
		wantErr bool
	}{
		{name: "sleeping", raw: "1234 (sleep) S 1 1234 1234 0 -1", want: 'S'},
		{name: "zombie", raw: "1234 (sleep) Z 1 1234 1234 0 -1", want: 'Z'},
		{name: "spaces in name", raw: "42 (my daemon) R 1 42", want: 'R'},
		{name: "parens in name", raw: "42 (a) b) (c) D 1 42", want: 'D'},
		{name: "empty", raw: "", wantErr: true},
		{name: "no state", raw: "42 (x)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := parseStatState([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, string(tt.want), string(state))
		})
	}
}

func TestProcessExists(t *testing.T) {
	assert.True(t, ProcessExists(os.Getpid()))
	assert.False(t, ProcessExists(deadPID))
	assert.False(t, ProcessExists(0))
	assert.False(t, ProcessExists(-1))
}

func TestProcessExists_ZombieCountsAsGone(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	// The child stays a zombie until it is waited for.
	require.Eventually(t, func() bool {
		state, err := processState(pid)
		return err == nil && state == 'Z'
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, ProcessExists(pid))

	require.NoError(t, cmd.Wait())
	assert.False(t, ProcessExists(pid))
}

func TestSignalProcess(t *testing.T) {
	alive, err := SignalProcess(os.Getpid(), 0)
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = SignalProcess(deadPID, unix.SIGUSR2)
	require.NoError(t, err)
	assert.False(t, alive)

	_, err = SignalProcess(0, unix.SIGTERM)
	assert.Error(t, err)
}

func TestSignalProcess_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root may signal any process")
	}

	alive, err := SignalProcess(1, 0)
	if err == nil {
		t.Skip("pid 1 belongs to the current user")
	}

	assert.False(t, alive)
	assert.True(t, errors.Is(err, unix.EPERM))
}

func TestSetOpenFileLimit(t *testing.T) {
	current, err := OpenFileLimits()
	require.NoError(t, err)

	before, after, err := SetOpenFileLimit(current.Hard)
	require.NoError(t, err)
	assert.Equal(t, current, before)
	assert.Equal(t, current.Hard, after.Soft)
	assert.Equal(t, current.Hard, after.Hard)
}

func TestDropPrivileges_GroupBeforeUser(t *testing.T) {
	current, err := user.Current()
	require.NoError(t, err)
	group, err := user.LookupGroupId(current.Gid)
	require.NoError(t, err)

	var calls []string
	origGid, origUid := setgid, setuid
	t.Cleanup(func() {
		setgid, setuid = origGid, origUid
	})
	setgid = func(int) error {
		calls = append(calls, "setgid")
		return nil
	}
	setuid = func(int) error {
		calls = append(calls, "setuid")
		return nil
	}

	require.NoError(t, DropPrivileges(current.Username, group.Name))
	assert.Equal(t, []string{"setgid", "setuid"}, calls)

	calls = nil
	require.NoError(t, DropPrivileges("", ""))
	assert.Empty(t, calls)
}

func TestDropPrivileges_UnknownUser(t *testing.T) {
	err := DropPrivileges("no-such-user-forkdaemon", "")
	assert.ErrorContains(t, err, "failed to find user")
}

func TestLookupUID_Numeric(t *testing.T) {
	current, err := user.Current()
	require.NoError(t, err)

	uid, err := LookupUID(current.Uid)
	require.NoError(t, err)
	assert.Equal(t, current.Uid, strconv.Itoa(uid))
}

func TestRedirectStreams_Dup(t *testing.T) {
	restore := saveStandardDescriptors(t)

	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "out.log")
	stderrPath := filepath.Join(dir, "err.log")

	strategy, err := RedirectStreams(os.DevNull, stdoutPath, stderrPath)
	require.NoError(t, err)
	assert.Equal(t, RedirectDup, strategy)

	_, err = os.Stdout.WriteString("to stdout\n")
	require.NoError(t, err)
	_, err = os.Stderr.WriteString("to stderr\n")
	require.NoError(t, err)

	restore()

	out, err := os.ReadFile(stdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "to stdout\n", string(out))

	errOut, err := os.ReadFile(stderrPath)
	require.NoError(t, err)
	assert.Equal(t, "to stderr\n", string(errOut))
}

func TestRedirectStreams_FallsBackToRebind(t *testing.T) {
	origIn, origOut, origErr := os.Stdin, os.Stdout, os.Stderr
	origDup := dup2
	t.Cleanup(func() {
		os.Stdin, os.Stdout, os.Stderr = origIn, origOut, origErr
		dup2 = origDup
	})
	dup2 = func(int, int) error {
		return unix.EBADF
	}

	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "out.log")

	strategy, err := RedirectStreams(os.DevNull, stdoutPath, filepath.Join(dir, "err.log"))
	require.NoError(t, err)
	assert.Equal(t, RedirectRebind, strategy)
	assert.NotSame(t, origOut, os.Stdout)

	_, err = os.Stdout.WriteString("rebound\n")
	require.NoError(t, err)
	os.Stdout.Close()

	out, err := os.ReadFile(stdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "rebound\n", string(out))
}

func TestRedirectStreams_BothStrategiesFail(t *testing.T) {
	origIn, origOut, origErr := os.Stdin, os.Stdout, os.Stderr
	t.Cleanup(func() {
		os.Stdin, os.Stdout, os.Stderr = origIn, origOut, origErr
	})

	missing := filepath.Join(t.TempDir(), "missing", "out.log")

	_, err := RedirectStreams(os.DevNull, missing, missing)
	require.Error(t, err)
	assert.Same(t, origOut, os.Stdout)
}

// saveStandardDescriptors duplicates fds 0, 1 and 2 and returns a function
// that puts them back. The function is also registered as a cleanup.
func saveStandardDescriptors(t *testing.T) func() {
	t.Helper()

	var saved []int
	for fd := 0; fd <= 2; fd++ {
		dup, err := unix.Dup(fd)
		require.NoError(t, err)
		saved = append(saved, dup)
	}

	restored := false
	restore := func() {
		if restored {
			return
		}
		restored = true

		for fd, dup := range saved {
			unix.Dup2(dup, fd)
			unix.Close(dup)
		}
	}

	t.Cleanup(restore)

	return restore
}
