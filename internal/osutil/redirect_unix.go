//go:build linux || darwin

package osutil

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// RedirectStrategy records how the standard streams were redirected.
type RedirectStrategy int

const (
	// RedirectDup means the file descriptors 0, 1 and 2 now refer to
	// the target files. Child processes and C code see the redirect.
	RedirectDup RedirectStrategy = iota

	// RedirectRebind means only os.Stdin, os.Stdout and os.Stderr were
	// replaced. The original descriptors are left untouched.
	RedirectRebind
)

func (o RedirectStrategy) String() string {
	switch o {
	case RedirectDup:
		return "dup2"
	case RedirectRebind:
		return "rebind"
	}

	return "unknown"
}

var dup2 = unix.Dup2

// RedirectStreams points the process's standard input at stdinPath and its
// standard output and error at stdoutPath and stderrPath. The output files
// are created if needed and appended to.
//
// The descriptors are duplicated onto 0, 1 and 2 when possible. If that
// fails, the files are opened again and os.Stdin, os.Stdout and os.Stderr
// are rebound to them instead. An error is returned only if both fail.
func RedirectStreams(stdinPath string, stdoutPath string, stderrPath string) (RedirectStrategy, error) {
	os.Stdout.Sync()
	os.Stderr.Sync()

	dupErr := dupStreams(stdinPath, stdoutPath, stderrPath)
	if dupErr == nil {
		return RedirectDup, nil
	}

	rebindErr := rebindStreams(stdinPath, stdoutPath, stderrPath)
	if rebindErr != nil {
		return RedirectRebind, fmt.Errorf("failed to redirect standard streams - %w",
			errors.Join(dupErr, rebindErr))
	}

	return RedirectRebind, nil
}

func dupStreams(stdinPath string, stdoutPath string, stderrPath string) error {
	if os.Stdin == nil || os.Stdout == nil || os.Stderr == nil {
		return errors.New("a standard stream has no file descriptor")
	}

	files, err := openStreams(stdinPath, stdoutPath, stderrPath)
	if err != nil {
		return err
	}
	defer closeAll(files)

	targets := []int{
		int(os.Stdin.Fd()),
		int(os.Stdout.Fd()),
		int(os.Stderr.Fd()),
	}

	for i := range files {
		err := dup2(int(files[i].Fd()), targets[i])
		if err != nil {
			return fmt.Errorf("failed to duplicate '%s' onto fd %d - %w",
				files[i].Name(), targets[i], err)
		}
	}

	return nil
}

func rebindStreams(stdinPath string, stdoutPath string, stderrPath string) error {
	files, err := openStreams(stdinPath, stdoutPath, stderrPath)
	if err != nil {
		return err
	}

	os.Stdin = files[0]
	os.Stdout = files[1]
	os.Stderr = files[2]

	return nil
}

func openStreams(stdinPath string, stdoutPath string, stderrPath string) ([]*os.File, error) {
	stdin, err := os.OpenFile(stdinPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin file - %w", err)
	}

	stdout, err := openAppend(stdoutPath)
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to open stdout file - %w", err)
	}

	stderr, err := openAppend(stderrPath)
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to open stderr file - %w", err)
	}

	return []*os.File{stdin, stdout, stderr}, nil
}

func openAppend(filePath string) (*os.File, error) {
	return os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
