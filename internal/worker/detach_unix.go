//go:build unix

package worker

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so terminal signals sent to the
// client's process group do not reach the daemon.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
