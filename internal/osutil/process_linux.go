package osutil

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strconv"
)

const (
	procDirPath = "/proc"
)

// ProcessExists reports whether pid refers to a process that has not yet
// exited. A zombie that is waiting to be reaped counts as exited.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}

	state, err := processState(pid)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}

		return signalZeroExists(pid)
	}

	return state != 'Z' && state != 'X'
}

// processState returns the one letter state field of /proc/<pid>/stat.
func processState(pid int) (byte, error) {
	statFile, err := os.Open(procDirPath + "/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, err
	}
	defer statFile.Close()

	raw, err := tinyRead(statFile)
	if err != nil {
		return 0, err
	}

	return parseStatState(raw)
}

// parseStatState extracts the state field from the contents of a
// /proc/<pid>/stat file. The command name is wrapped in parentheses and
// may itself contain spaces or parentheses, so parsing starts after the
// last closing parenthesis.
func parseStatState(raw []byte) (byte, error) {
	end := bytes.LastIndexByte(raw, ')')
	if end < 0 || end+2 >= len(raw) {
		return 0, errors.New("malformed process stat data")
	}

	rest := bytes.TrimLeft(raw[end+1:], " ")
	if len(rest) == 0 {
		return 0, errors.New("process stat data is missing the state field")
	}

	return rest[0], nil
}

// tinyRead reads up to 1 kilobyte from r. The stat files in /proc report
// a size of zero, so the usual size based read helpers do not work.
func tinyRead(r io.Reader) ([]byte, error) {
	raw := make([]byte, 1024)

	n, err := r.Read(raw)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return raw[:n], nil
}
