//go:build linux

package worker

import (
	"os/exec"
	"syscall"
)

// applySysProcAttr puts the worker child in its own process group and asks
// the kernel to SIGKILL it if the parent dies unexpectedly.
func applySysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
