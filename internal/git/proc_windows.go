//go:build windows

package git

import (
	"os/exec"
	"syscall"
)

// detach starts git in its own process group so console Ctrl-C events do not
// reach it. Windows cannot deliver an interrupt to a child, so a timeout
// kills it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	cmd.Cancel = func() error { return cmd.Process.Kill() }
}
