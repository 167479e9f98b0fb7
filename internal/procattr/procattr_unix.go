//go:build unix && !linux

// Package procattr puts backend children in their own process group so a
// turn can be torn down as a unit.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set starts cmd in a new process group.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
