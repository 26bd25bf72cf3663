//go:build !linux

package worker

import (
	"os"
	"os/exec"
)

func applySysProcAttr(cmd *exec.Cmd) {}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}
