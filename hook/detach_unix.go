//go:build unix

package hook

import (
	"os/exec"
	"syscall"
)

// detach puts the script in its own session so signals aimed at us
// never reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
