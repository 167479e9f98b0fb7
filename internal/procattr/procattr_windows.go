//go:build windows

// Package procattr puts backend children in their own process group so a
// turn can be torn down as a unit.
package procattr

import (
	"os"
	"os/exec"
)

// Set is a no-op on Windows.
func Set(*exec.Cmd) {}

// Terminate kills p. Windows has no catchable termination signal for
// console children.
func Terminate(p *os.Process) error {
	return Kill(p)
}

// Kill kills p.
func Kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
