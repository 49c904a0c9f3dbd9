package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/harrison/speak/internal/filelock"
)

const (
	// DefaultStartPollInterval matches the readiness polling cadence of starters.
	DefaultStartPollInterval = 100 * time.Millisecond

	// probeTimeout bounds a single liveness dial.
	probeTimeout = 200 * time.Millisecond
)

var (
	// ErrStartTimeout is returned when the socket does not appear in time.
	ErrStartTimeout = errors.New("worker did not become ready")

	// ErrNotRunning is returned by Stop when no live daemon exists.
	ErrNotRunning = errors.New("worker is not running")
)

// Spawner launches a detached daemon process for state and returns its PID.
type Spawner interface {
	Spawn(ctx context.Context, state State) (int, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, state State) (int, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, state State) (int, error) {
	return f(ctx, state)
}

// Logger receives progress messages from the Manager.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// Status is a snapshot of the daemon's state on disk.
type Status struct {
	Running    bool
	PID        int
	SocketLive bool
	State      State
}

// Manager ensures a single daemon instance is running for a runtime
// directory. Mutual exclusion between concurrent starters, including
// starters in other processes, comes from an advisory lock on the lock file.
type Manager struct {
	state        State
	spawner      Spawner
	logger       Logger
	startTimeout time.Duration
	pollInterval time.Duration
}

// NewManager creates a Manager. logger may be nil.
func NewManager(state State, spawner Spawner, startTimeout time.Duration, logger Logger) *Manager {
	return &Manager{
		state:        state,
		spawner:      spawner,
		logger:       logger,
		startTimeout: startTimeout,
		pollInterval: DefaultStartPollInterval,
	}
}

// State returns the runtime files the manager operates on.
func (m *Manager) State() State {
	return m.state
}

// EnsureRunning returns immediately when the PID file names a live process.
// Otherwise it starts the daemon, or waits for a concurrent starter to
// finish. started reports whether this call spawned the daemon.
func (m *Manager) EnsureRunning(ctx context.Context) (started bool, err error) {
	if m.state.IsRunning() {
		return false, nil
	}
	return m.start(ctx, m.state.IsRunning)
}

// Restart replaces a daemon whose socket refuses connections. The socket is
// probed again under the lock so that concurrent clients restart it once.
func (m *Manager) Restart(ctx context.Context) (started bool, err error) {
	return m.start(ctx, func() bool {
		return m.state.Probe(probeTimeout)
	})
}

func (m *Manager) start(ctx context.Context, alive func() bool) (bool, error) {
	lock := filelock.NewFileLock(m.state.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire startup lock: %w", err)
	}
	if !locked {
		m.debug("Another process is starting the worker, waiting for socket")
		return false, m.waitReady(ctx, 0)
	}
	defer lock.Unlock()

	// A racing starter may have finished between our check and the lock.
	if alive() {
		return false, nil
	}

	// Never remove a socket that still answers; its owner is alive even if
	// the PID file says otherwise.
	if m.state.Probe(probeTimeout) {
		m.debug("Worker socket is live, not starting another worker")
		return false, nil
	}
	if err := m.state.Cleanup(); err != nil {
		return false, fmt.Errorf("clear stale worker state: %w", err)
	}

	pid, err := m.spawner.Spawn(ctx, m.state)
	if err != nil {
		return false, fmt.Errorf("spawn worker: %w", err)
	}
	if err := m.state.WritePID(pid); err != nil {
		return true, err
	}
	m.debug(fmt.Sprintf("Started worker (pid %d)", pid))

	return true, m.waitReady(ctx, pid)
}

// waitReady polls until the socket accepts connections. A non-zero pid is
// also watched so a worker that dies during startup fails fast.
func (m *Manager) waitReady(ctx context.Context, pid int) error {
	deadline := time.NewTimer(m.startTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if m.state.SocketExists() && m.state.Probe(probeTimeout) {
			return nil
		}
		if pid > 0 && !ProcessAlive(pid) {
			return fmt.Errorf("worker (pid %d) exited during startup, see %s", pid, m.state.LogFile)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w within %v", ErrStartTimeout, m.startTimeout)
		case <-ticker.C:
		}
	}
}

// Status reads the daemon's state without changing it.
func (m *Manager) Status() Status {
	st := Status{State: m.state}
	if pid, err := m.state.ReadPID(); err == nil {
		st.PID = pid
		st.Running = ProcessAlive(pid)
	}
	st.SocketLive = m.state.Probe(probeTimeout)
	return st
}

// Stop asks the daemon to shut down gracefully and waits until it exits or
// ctx is done. Queued speech is still played before the process exits.
func (m *Manager) Stop(ctx context.Context) (int, error) {
	pid, err := m.state.ReadPID()
	if err != nil || !ProcessAlive(pid) {
		if cleanupErr := m.state.Cleanup(); cleanupErr != nil {
			m.warn(fmt.Sprintf("Failed to clear stale worker state: %v", cleanupErr))
		}
		return 0, ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find worker process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal worker (pid %d): %w", pid, err)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for ProcessAlive(pid) {
		select {
		case <-ctx.Done():
			return pid, fmt.Errorf("worker (pid %d) still running: %w", pid, ctx.Err())
		case <-ticker.C:
		}
	}
	return pid, nil
}

func (m *Manager) debug(message string) {
	if m.logger != nil {
		m.logger.LogDebug(message)
	}
}

func (m *Manager) warn(message string) {
	if m.logger != nil {
		m.logger.LogWarn(message)
	}
}
