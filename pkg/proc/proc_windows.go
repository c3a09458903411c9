//go:build windows

package proc

import (
	"os/exec"
)

// setSysProcAttr is a no-op on Windows: the abstract spec's process-group
// signalling has no direct analogue, and child-fd remapping here relies on
// Go's exec.Cmd (which already uses DuplicateHandle/SetHandleInformation
// internally) rather than a hand-rolled handle table, per spec §9's
// platform-quirks note.
func setSysProcAttr(cmd *exec.Cmd) {}

// TerminateGroup kills just the child process; Windows has no process-group
// signal equivalent to SIGTERM, so escalate straight to Kill.
func (h *Handle) TerminateGroup() error {
	return h.Kill()
}
