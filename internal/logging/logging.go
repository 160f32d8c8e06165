// Package logging owns the process-wide slog logger. Its sink can be
// re-pointed at runtime, which a daemon needs twice: once when it switches
// to a log file and once when its standard streams are redirected.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 3
	logFileMaxAgeDays = 28
)

// Manager handles the logger lifecycle. Components should obtain a logger
// via Logger() and use it for all logging; the returned logger stays valid
// across sink changes.
type Manager struct {
	handler *SwappableHandler
	logger  *slog.Logger
	level   *slog.LevelVar
	mu      sync.Mutex
	console io.Writer
	logFile *lumberjack.Logger
}

// NewManager creates a logging manager that writes text to console.
func NewManager(console io.Writer) *Manager {
	level := new(slog.LevelVar)
	level.Set(DefaultLevel)

	handler := NewSwappableHandler(newTextHandler(console, level))

	return &Manager{
		handler: handler,
		logger:  slog.New(handler),
		level:   level,
		console: console,
	}
}

func newTextHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// Logger returns the logger instance.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// SetLevel changes the log level at runtime.
func (m *Manager) SetLevel(level slog.Level) {
	m.level.Set(level)
}

// Level returns the current log level.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

// UseFile sends all log output to a size-rotated file at logFilePath and
// stops writing to the console. The file is opened once up front so that
// an unwritable path is reported here rather than silently dropping logs.
func (m *Manager) UseFile(logFilePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(logFilePath)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create log directory '%s' - %w", dir, err)
	}

	testFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s' - %w", logFilePath, err)
	}
	testFile.Close()

	if m.logFile != nil {
		_ = m.logFile.Close()
	}

	m.logFile = &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
	}

	m.handler.Swap(newTextHandler(m.logFile, m.level))

	return nil
}

// UsingFile reports whether logs currently go to a log file.
func (m *Manager) UsingFile() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.logFile != nil
}

// Retarget points console logging at w. It is a no-op for the active sink
// while a log file is in use, but w is remembered as the console.
func (m *Manager) Retarget(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.console = w

	if m.logFile == nil {
		m.handler.Swap(newTextHandler(w, m.level))
	}
}

// Close closes the log file, if any, and switches back to the console.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logFile == nil {
		return nil
	}

	err := m.logFile.Close()
	m.logFile = nil
	m.handler.Swap(newTextHandler(m.console, m.level))

	return err
}
