//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in a new session, outside the unit's process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
