//go:build !windows

package executor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr puts the unit in its own process group so it and its
// children can be signaled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup sends SIGTERM to the unit's process group, waits up to
// grace for exited to close, then sends SIGKILL.
func terminateGroup(cmd *exec.Cmd, grace time.Duration, exited <-chan struct{}) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("sigterm pgid %d: %w", pgid, err)
	}

	select {
	case <-exited:
	case <-time.After(grace):
	}
	// Group members that ignored SIGTERM, or outlived the leader.
	killGroup(cmd)
	return nil
}

// killGroup sends SIGKILL to the whole group. The group id is the leader's
// pid, so it stays addressable after the leader is reaped.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
