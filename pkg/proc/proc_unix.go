//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr isolates the child into its own process group, grounded on
// other_examples' processmgr/process.go, so a cancelled operation can signal every process the
// child might have forked off (e.g. a gpg-agent helper) rather than just the
// immediate child.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// TerminateGroup sends SIGTERM to the child's whole process group, used by
// engine.Driver on context cancellation to reach any helper process the engine forked (e.g. gpg-agent).
func (h *Handle) TerminateGroup() error {
	if h.Cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-h.Cmd.Process.Pid, syscall.SIGTERM)
}
