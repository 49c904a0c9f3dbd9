package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// NewDaemonLogger opens (appending) the worker log file at path and returns a
// structured logger writing to it. The returned closer releases the file.
func NewDaemonLogger(path string, level string) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open worker log: %w", err)
	}

	return NewStructuredLogger(file, level), file, nil
}

// NewStructuredLogger returns a worker-style logger writing to w.
func NewStructuredLogger(w io.Writer, level string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "worker",
		Level:           daemonLevel(level),
	})
}

// daemonLevel maps the shared level names onto charmbracelet/log levels.
// Trace has no equivalent and maps to debug.
func daemonLevel(level string) log.Level {
	switch ParseLevel(level) {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
