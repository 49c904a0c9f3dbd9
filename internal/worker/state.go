// Package worker manages the on-disk state of the speak daemon and the
// single-instance startup protocol clients use to reach it.
package worker

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harrison/speak/internal/filelock"
)

// File names inside the runtime directory
const (
	PIDFileName    = "worker.pid"
	SocketFileName = "worker.sock"
	LockFileName   = "worker.lock"
	LogFileName    = "worker.log"
	HistoryDBName  = "history.db"
)

// State locates the daemon's files. It is a plain value passed to whoever
// needs it; nothing here is process-global.
type State struct {
	Dir        string
	PIDFile    string
	SocketFile string
	LockFile   string
	LogFile    string
}

// NewState returns the state rooted at dir.
func NewState(dir string) State {
	return State{
		Dir:        dir,
		PIDFile:    filepath.Join(dir, PIDFileName),
		SocketFile: filepath.Join(dir, SocketFileName),
		LockFile:   filepath.Join(dir, LockFileName),
		LogFile:    filepath.Join(dir, LogFileName),
	}
}

// HistoryPath returns the playback journal database path.
func (s State) HistoryPath() string {
	return filepath.Join(s.Dir, HistoryDBName)
}

// ReadPID returns the PID recorded in the PID file.
func (s State) ReadPID() (int, error) {
	data, err := os.ReadFile(s.PIDFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", s.PIDFile, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// WritePID records pid as the daemon's PID.
func (s State) WritePID(pid int) error {
	if err := filelock.AtomicWrite(s.PIDFile, []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// RemovePIDIfOwned deletes the PID file only when it still names pid, so
// an exiting daemon never removes a successor's record.
func (s State) RemovePIDIfOwned(pid int) error {
	recorded, err := s.ReadPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if recorded != pid {
		return nil
	}
	return removeIfExists(s.PIDFile)
}

// IsRunning reports whether the PID file names a live process. The file
// alone proves nothing: a crashed daemon leaves it behind.
func (s State) IsRunning() bool {
	pid, err := s.ReadPID()
	if err != nil {
		return false
	}
	return ProcessAlive(pid)
}

// SocketExists reports whether the socket file is present.
func (s State) SocketExists() bool {
	info, err := os.Lstat(s.SocketFile)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

// Probe reports whether something accepts connections on the socket.
func (s State) Probe(timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", s.SocketFile, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Cleanup removes the PID and socket files left by a dead daemon.
func (s State) Cleanup() error {
	return errors.Join(removeIfExists(s.PIDFile), removeIfExists(s.SocketFile))
}

// ProcessAlive reports whether pid can be signaled. EPERM means the process
// exists but belongs to someone else, which still counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
