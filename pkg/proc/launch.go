// Package proc implements the child-process launcher (spec §4.2): given an
// engine path, an argv template, and a set of fds to hand to the child at
// specific positions, it starts the child and returns a handle the driver
// uses to reap it later.
//
// Grounded on the teacher's pkg/commands/os.go (an injectable command
// constructor for testability) and on the os.Pipe()+cmd.ExtraFiles pattern
// from other_examples' go.ref/lib/exec/parent.go, generalized from one fixed
// pipe pair to an arbitrary fd-map.
package proc

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/xerrors"

	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
)

// Target identifies where in the child's fd table an entry lands.
type Target int

const (
	// TargetExtra appends the fd to ExtraFiles; Go assigns it fd 3+i in
	// child-fd order. Entries with TargetExtra must set ArgvIndex so the
	// actual number can be substituted into argv.
	TargetExtra Target = iota
	TargetStdin
	TargetStdout
	TargetStderr
)

// FDEntry describes one fd the child must receive.
type FDEntry struct {
	// ChildEnd is the *os.File the child process will read/write. For
	// TargetExtra it becomes ExtraFiles[i]; for the Std* targets it
	// becomes Cmd.Stdin/Stdout/Stderr directly.
	ChildEnd *os.File
	Target   Target
	// ArgvIndex, when >= 0, names a slot in Plan.Argv to format with the
	// fd number the child will see. The slot must contain exactly one
	// "%d" verb, e.g. "--status-fd=%d" or "-&%d".
	ArgvIndex int
}

// Plan is the full description of one child invocation.
type Plan struct {
	Path    string
	Argv    []string
	Env     []string // nil means inherit os.Environ()
	Entries []FDEntry
	// CommandFunc overrides how *exec.Cmd is constructed, for tests.
	CommandFunc func(name string, arg ...string) *exec.Cmd
}

// Handle wraps the running child.
type Handle struct {
	Cmd *exec.Cmd
}

// Launch starts the child described by plan. On success, the parent's
// copies of every ChildEnd have been closed (the child has its own dup via
// fork/exec or ExtraFiles), matching spec §3's invariant that "once the
// child is spawned, the parent closes its copies of the child-only ends."
// On failure, Launch closes every ChildEnd itself and returns the error;
// ParentEnds are the caller's responsibility either way.
func Launch(plan Plan) (*Handle, error) {
	argv := append([]string(nil), plan.Argv...)

	var extraFiles []*os.File
	var stdin, stdout, stderr *os.File

	for _, e := range plan.Entries {
		switch e.Target {
		case TargetExtra:
			fdNum := 3 + len(extraFiles)
			extraFiles = append(extraFiles, e.ChildEnd)
			if e.ArgvIndex >= 0 {
				if e.ArgvIndex >= len(argv) {
					closeAll(extraFiles, stdin, stdout, stderr)
					return nil, gpgmeerr.New(gpgmeerr.CodeInvalidValue, gpgmeerr.SourceProc,
						"argv index %d out of range", e.ArgvIndex)
				}
				argv[e.ArgvIndex] = fmt.Sprintf(argv[e.ArgvIndex], fdNum)
			}
		case TargetStdin:
			stdin = e.ChildEnd
		case TargetStdout:
			stdout = e.ChildEnd
		case TargetStderr:
			stderr = e.ChildEnd
		}
	}

	newCmd := exec.Command
	if plan.CommandFunc != nil {
		newCmd = plan.CommandFunc
	}
	cmd := newCmd(plan.Path, argv...)
	if plan.Env != nil {
		cmd.Env = plan.Env
	}
	cmd.ExtraFiles = extraFiles

	var devnull *os.File
	if stdin == nil || stderr == nil {
		var err error
		devnull, err = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			closeAll(extraFiles, stdin, stdout, stderr)
			return nil, gpgmeerr.New(gpgmeerr.CodeEIO, gpgmeerr.SourceProc, "open %s: %v", os.DevNull, err)
		}
	}
	if stdin != nil {
		cmd.Stdin = stdin
	} else {
		cmd.Stdin = devnull
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = devnull
	}

	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(extraFiles, stdin, stdout, stderr)
		if devnull != nil {
			devnull.Close()
		}
		return nil, xerrors.Errorf("proc: spawn %s: %w", plan.Path, gpgmeerr.New(gpgmeerr.CodeInvalidEngine, gpgmeerr.SourceProc, "%v", err))
	}

	// The child has its own dup of every fd now; close our copies.
	closeAll(extraFiles, stdin, stdout, stderr)
	if devnull != nil {
		devnull.Close()
	}

	return &Handle{Cmd: cmd}, nil
}

func closeAll(files []*os.File, rest ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
	for _, f := range rest {
		if f != nil {
			f.Close()
		}
	}
}

// Wait reaps the child and reports its exit code; a nonzero exit or a
// signal death (-1) comes back through exitCode, not as an error — only a
// failure to wait at all returns an error. The driver always calls this once status EOF is observed, per
// spec §9's process-reaping design note.
func (h *Handle) Wait() (exitCode int, err error) {
	err = h.Cmd.Wait()
	if h.Cmd.ProcessState != nil {
		exitCode = h.Cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return exitCode, nil
	}
	var exitErr *exec.ExitError
	if xerrors.As(err, &exitErr) {
		return exitCode, nil // exit status is reported via exitCode, not an error
	}
	return exitCode, gpgmeerr.New(gpgmeerr.CodeEIO, gpgmeerr.SourceProc, "wait: %v", err)
}

// Kill terminates the child forcibly.
func (h *Handle) Kill() error {
	if h.Cmd.Process == nil {
		return nil
	}
	return h.Cmd.Process.Kill()
}
