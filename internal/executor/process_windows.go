//go:build windows

package executor

import (
	"os/exec"
	"time"
)

// configureProcAttr is a no-op on Windows (Setpgid not supported).
func configureProcAttr(_ *exec.Cmd) {}

// terminateGroup on Windows falls back to Process.Kill(). Children are
// reached by the descendant sweep.
func terminateGroup(cmd *exec.Cmd, _ time.Duration, _ <-chan struct{}) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killGroup(_ *exec.Cmd) {}
