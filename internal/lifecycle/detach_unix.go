//go:build !windows

package lifecycle

import (
	"os/exec"
	"syscall"
)

// detach moves the collector into its own process group so terminal signals
// aimed at the daemon do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
