//go:build linux || darwin

package forkdaemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// StageEnvVar marks a re-executed copy of the program and says which
	// daemonization stage it must run.
	StageEnvVar = "FORKDAEMON_STAGE"

	// WorkDirEnvVar carries the working directory of the original
	// invocation to the re-executed copies.
	WorkDirEnvVar = "FORKDAEMON_WORKDIR"
)

type stage int

const (
	// stageInvoker is the process the user ran.
	stageInvoker stage = iota
	// stageSessionLeader is the first re-executed copy. It creates a new
	// session.
	stageSessionLeader
	// stageDaemon is the final daemon process.
	stageDaemon
)

func (o stage) String() string {
	switch o {
	case stageInvoker:
		return "invoker"
	case stageSessionLeader:
		return "session-leader"
	case stageDaemon:
		return "daemon"
	}

	return "stage-" + strconv.Itoa(int(o))
}

func currentStage() stage {
	raw, ok := os.LookupEnv(StageEnvVar)
	if !ok {
		return stageInvoker
	}

	i, err := strconv.Atoi(raw)
	if err != nil || i < int(stageInvoker) || i > int(stageDaemon) {
		return stageInvoker
	}

	return stage(i)
}

// WasReborn reports whether the process is a re-executed copy created
// by a Daemonizer rather than the process the user ran.
func WasReborn() bool {
	return currentStage() != stageInvoker
}

// IsDaemon reports whether the process is the final daemon process.
func IsDaemon() bool {
	return currentStage() == stageDaemon
}

// InvocationDir returns the working directory of the process the user ran,
// which may differ from the current one after the daemon changed directory.
func InvocationDir() (string, error) {
	if dir := os.Getenv(WorkDirEnvVar); len(dir) > 0 {
		return dir, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory - %w", err)
	}

	return dir, nil
}

// respawn starts a copy of the current executable with the same arguments
// and standard streams, marked as the next stage. The new process is not
// waited for.
func respawn(next stage) (int, error) {
	exePath, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path - %w", err)
	}

	workDir, err := InvocationDir()
	if err != nil {
		return 0, err
	}

	env := environWithout(os.Environ(), StageEnvVar, WorkDirEnvVar)
	env = append(env,
		StageEnvVar+"="+strconv.Itoa(int(next)),
		WorkDirEnvVar+"="+workDir)

	proc, err := os.StartProcess(exePath, os.Args, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to start '%s' - %w", exePath, err)
	}

	pid := proc.Pid
	proc.Release()

	return pid, nil
}

func environWithout(env []string, names ...string) []string {
	filtered := make([]string, 0, len(env))

outer:
	for _, kv := range env {
		for _, name := range names {
			if strings.HasPrefix(kv, name+"=") {
				continue outer
			}
		}

		filtered = append(filtered, kv)
	}

	return filtered
}
