//go:build windows

package launcher

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcAttr starts the debuggee in a new process group
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup kills the debuggee. Windows has no process groups to
// signal, so only the process itself is killed.
func killProcessGroup(_ int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}
