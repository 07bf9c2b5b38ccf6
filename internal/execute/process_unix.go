// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Unix-specific process group handling for whole-tree termination

//go:build !windows

package execute

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the command in its own process group so that
// termination signals reach every descendant, not just the direct child
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminateProcessGroup asks the whole group to exit with SIGTERM,
// leaving handlers a chance to clean up before the kill escalation
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Fallback to signalling just the process
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

// killProcessGroup forcibly ends the whole group with SIGKILL
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Fallback to killing just the process
		return cmd.Process.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
