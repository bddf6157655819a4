//go:build !windows

package remote

import (
	"os/exec"
	"syscall"
)

// detach places the editor in its own session so terminal signals aimed at
// the caller's process group do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
