//go:build linux

// Package procattr puts backend children in their own process group so a
// turn can be torn down as a unit.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set starts cmd in a new process group. The child also receives SIGTERM
// if the spawning thread dies.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
