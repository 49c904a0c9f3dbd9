package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RuntimeDirEnv names the variable through which a spawned worker learns
// the runtime directory its starter is waiting on.
const RuntimeDirEnv = "SPEAK_HOME"

// ProcessSpawner starts the daemon by re-executing a binary (normally the
// running speak executable) with the hidden worker subcommand. The child is
// detached from the caller's session and terminal and its output goes to
// the worker log.
type ProcessSpawner struct {
	Executable string
	Args       []string
	Env        []string
}

// NewProcessSpawner returns a spawner running "<self> worker [args...]".
func NewProcessSpawner(args ...string) (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate speak executable: %w", err)
	}
	return &ProcessSpawner{
		Executable: exe,
		Args:       append([]string{"worker"}, args...),
	}, nil
}

// Spawn starts the process and returns its PID without waiting for it.
func (p *ProcessSpawner) Spawn(ctx context.Context, state State) (int, error) {
	dir, err := filepath.Abs(state.Dir)
	if err != nil {
		return 0, fmt.Errorf("resolve runtime directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create runtime directory: %w", err)
	}
	logFile, err := os.OpenFile(state.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	// Not CommandContext: the daemon must outlive the client that started it.
	cmd := exec.Command(p.Executable, p.Args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// The worker reloads its config from inside dir. Pinning the runtime
	// directory keeps a relative runtime_dir or SPEAK_HOME from resolving
	// somewhere else; the last duplicate in Env wins.
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env, RuntimeDirEnv+"="+dir)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", p.Executable, err)
	}

	// Reap the child if it exits while we are still around, otherwise a
	// zombie would keep answering liveness signals.
	go cmd.Wait()

	return cmd.Process.Pid, nil
}
