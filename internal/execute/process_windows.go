// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Windows-specific process handling

//go:build windows

package execute

import (
	"os/exec"
)

// setProcessGroup configures platform-specific process attributes.
// Windows has no Unix-style process groups; termination goes through
// TerminateProcess on the direct child.
func setProcessGroup(cmd *exec.Cmd) {
}

// terminateProcessGroup stops the process. Windows offers no clean way
// to deliver a termination signal to a console-less process, so this
// falls through to Kill.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// killProcessGroup kills the process via TerminateProcess
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
