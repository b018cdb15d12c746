//go:build windows

package executor

import "os/exec"

func detach(_ *exec.Cmd) {}
