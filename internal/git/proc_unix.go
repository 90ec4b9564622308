//go:build !windows

package git

import (
	"os"
	"os/exec"
	"syscall"
)

// detach starts git in its own process group and makes a timeout send SIGINT,
// letting git drop its index lock before exiting.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
}
