// Package logger provides the two log sinks used by speak.
//
// ConsoleLogger writes short timestamped diagnostics for the interactive
// client to stderr. NewDaemonLogger returns the structured logger the
// background worker writes to its log file, since the worker has no terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level orders console messages by severity.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"trace", "debug", "info", "warn", "error"}

var levelColors = [...]*color.Color{
	color.New(color.FgHiBlack),
	color.New(color.FgCyan),
	color.New(color.FgBlue),
	color.New(color.FgYellow),
	color.New(color.FgRed),
}

// ParseLevel maps a level name (case-insensitive) to a Level.
// Unknown or empty names mean info.
func ParseLevel(name string) Level {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return LevelInfo
}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return "info"
	}
	return levelNames[l]
}

// ConsoleLogger prints client progress as "[HH:MM:SS] [LEVEL] message".
// Level tags are colored when writing to a terminal. A nil *ConsoleLogger
// or one with a nil writer discards everything.
type ConsoleLogger struct {
	mu     sync.Mutex
	w      io.Writer
	min    Level
	colors bool
}

// NewConsoleLogger creates a ConsoleLogger writing messages at or above
// level to w.
func NewConsoleLogger(w io.Writer, level string) *ConsoleLogger {
	return &ConsoleLogger{
		w:      w,
		min:    ParseLevel(level),
		colors: (w == os.Stdout || w == os.Stderr) && !color.NoColor,
	}
}

// Level returns the name of the minimum level printed.
func (cl *ConsoleLogger) Level() string {
	return cl.min.String()
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.print(LevelTrace, message) }
func (cl *ConsoleLogger) LogDebug(message string) { cl.print(LevelDebug, message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.print(LevelInfo, message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.print(LevelWarn, message) }
func (cl *ConsoleLogger) LogError(message string) { cl.print(LevelError, message) }

// LogStep reports how long one client step took, at debug level.
func (cl *ConsoleLogger) LogStep(step string, elapsed time.Duration) {
	cl.print(LevelDebug, fmt.Sprintf("Client: %s (%.3fs)", step, elapsed.Seconds()))
}

// LogChunkQueued reports a submitted chunk, at debug level.
func (cl *ConsoleLogger) LogChunkQueued(index, total int) {
	cl.print(LevelDebug, fmt.Sprintf("Queued chunk %d/%d", index, total))
}

func (cl *ConsoleLogger) print(level Level, message string) {
	if cl == nil || cl.w == nil || level < cl.min {
		return
	}

	tag := strings.ToUpper(level.String())
	if cl.colors {
		tag = levelColors[level].Sprint(tag)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	fmt.Fprintf(cl.w, "[%s] [%s] %s\n", time.Now().Format("15:04:05"), tag, message)
}
