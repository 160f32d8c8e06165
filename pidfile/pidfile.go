// Package pidfile reads and writes the file that records the process ID of
// a running daemon.
//
// A pidfile holds exactly one decimal integer and nothing else. The
// presence of a pidfile never implies that the process it names is alive.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile manages a single pidfile on disk.
type PIDFile struct {
	path string
}

// New returns a PIDFile for the given path. No file is touched.
func New(filePath string) *PIDFile {
	return &PIDFile{
		path: filePath,
	}
}

// Path returns the path of the pidfile.
func (o *PIDFile) Path() string {
	return o.path
}

// Write truncates the pidfile and writes pid to it as a decimal string.
// The parent directory is created if it does not exist.
func (o *PIDFile) Write(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	err := os.MkdirAll(filepath.Dir(o.path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create pidfile directory - %w", err)
	}

	err = os.WriteFile(o.path, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write pidfile '%s' - %w", o.path, err)
	}

	return nil
}

// Read returns the pid stored in the pidfile. It returns false if the file
// is missing, unreadable, or does not hold a positive integer.
func (o *PIDFile) Read() (int, bool) {
	raw, err := os.ReadFile(o.path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

// Remove deletes the pidfile. A pidfile that does not exist is not an error.
func (o *PIDFile) Remove() error {
	err := os.Remove(o.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove pidfile '%s' - %w", o.path, err)
	}

	return nil
}

// Exists reports whether the pidfile is present on disk.
func (o *PIDFile) Exists() bool {
	_, err := os.Stat(o.path)
	return err == nil
}
