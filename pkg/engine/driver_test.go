package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
	"github.com/gpgme-go/gogpgme/pkg/opresult"
	"github.com/gpgme-go/gogpgme/pkg/proc"
	"github.com/gpgme-go/gogpgme/pkg/status"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// TestRunDecryptPlaintextToMemoryObject exercises the whole path: a fake
// engine (a shell script standing in for gpg) writes status lines on the
// fd the driver substituted into --status-fd, then streams plaintext on
// its stdout, which the driver pumps into a gpgdata.Memory object. Entries
// are added in build()'s fixed order (status gets extra-fd 3 first), so the
// script can address it literally rather than parsing its own argv.
func TestRunDecryptPlaintextToMemoryObject(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] DECRYPTION_INFO 2 9 0\n' >&3
printf '[GNUPG:] DECRYPTION_OKAY\n' >&3
printf 'hello world'
exit 0
`
	mem := gpgdata.NewMemory()
	decrypt := &opresult.DecryptResult{}

	cfg := Config{
		Path: "sh",
		Argv: []string{"-c", script},
		DataSlots: []DataSlot{
			{Object: mem, Direction: DirInbound, Target: proc.TargetStdout, ArgvIndex: -1},
		},
		Callbacks: Callbacks{
			StatusSink: func(ev status.Event) error {
				switch ev.Keyword {
				case status.KeywordDecryptionInfo:
					decrypt.MarkDecryptionInfo(true)
				case status.KeywordDecryptionOkay:
					decrypt.MarkDecryptionOkay()
				}
				return nil
			},
		},
	}

	d := New(cfg)
	err := d.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, d.ExitFailed())
	assert.Equal(t, "hello world", string(mem.Bytes()))
	assert.NoError(t, decrypt.TerminalError(nil, false))
}

// TestRunHandlesPassphraseInquiry proves the inquiry/command handoff: the
// fake engine asks for a hidden passphrase via GET_HIDDEN passphrase.enter,
// the driver's Passphrase callback answers, and the reply lands back on the
// engine's command-fd read end. Status gets extra-fd 3 and command gets
// extra-fd 4, again following build()'s fixed append order.
func TestRunHandlesPassphraseInquiry(t *testing.T) {
	requireSh(t)

	dir := t.TempDir()
	replyFile := filepath.Join(dir, "reply")

	script := `
printf '[GNUPG:] USERID_HINT AAAABBBBCCCCDDDD user@example.com\n' >&3
printf '[GNUPG:] NEED_PASSPHRASE 1 2 3 0\n' >&3
printf '[GNUPG:] GET_HIDDEN passphrase.enter\n' >&3
read -r line <&4
printf '%s' "$line" > "` + replyFile + `"
printf '[GNUPG:] DECRYPTION_OKAY\n' >&3
exit 0
`
	var gotPrompt string
	cfg := Config{
		Path:        "sh",
		Argv:        []string{"-c", script},
		NeedCommand: true,
		Callbacks: Callbacks{
			StatusSink: func(status.Event) error { return nil },
			Passphrase: func(prompt string) (string, error) {
				gotPrompt = prompt
				return "supersecret", nil
			},
		},
	}

	d := New(cfg)
	err := d.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, d.ExitFailed())
	assert.Contains(t, gotPrompt, "AAAABBBBCCCCDDDD")

	got, rerr := os.ReadFile(replyFile)
	require.NoError(t, rerr)
	assert.Equal(t, "supersecret", string(got))
}

// TestRunInquiryWithoutCallbackLatchesError proves an unanswerable inquiry
// becomes the driver's terminal error rather than hanging forever.
func TestRunInquiryWithoutCallbackLatchesError(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] GET_LINE some.prompt\n' >&3
exit 1
`
	cfg := Config{
		Path:        "sh",
		Argv:        []string{"-c", script},
		NeedCommand: true,
		Callbacks: Callbacks{
			StatusSink: func(status.Event) error { return nil },
		},
	}

	d := New(cfg)
	err := d.Run(context.Background())
	require.Error(t, err)
}

// TestRunCancelTerminatesChild proves a canceled context latches
// CodeCanceled and kills the child rather than waiting for it to exit on
// its own, which a hung or over-long engine invocation never would.
func TestRunCancelTerminatesChild(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] USERID_HINT x\n' >&3
sleep 30
exit 0
`
	cfg := Config{
		Path: "sh",
		Argv: []string{"-c", script},
		Callbacks: Callbacks{
			StatusSink: func(status.Event) error { return nil },
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := New(cfg)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, gpgmeerr.Is(err, gpgmeerr.CodeCanceled))
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

// TestBuildRejectsOutOfRangeArgvIndexAndCleansUp exercises the build-time
// failure path (closeAll, not closeParentEnds, since proc.Launch is never
// reached): a data slot naming a TargetExtra argv index past the end of
// argv must be rejected without leaking any pipe fd.
func TestBuildRejectsOutOfRangeArgvIndexAndCleansUp(t *testing.T) {
	mem := gpgdata.NewMemory()
	cfg := Config{
		Path: "sh",
		Argv: []string{"-c", "true"},
		DataSlots: []DataSlot{
			{Object: mem, Direction: DirOutbound, Target: proc.TargetExtra, ArgvIndex: 99},
		},
		Callbacks: Callbacks{
			StatusSink: func(status.Event) error { return nil },
		},
	}

	d := New(cfg)
	err := d.Run(context.Background())
	require.Error(t, err)
}

// TestRunRequiresStatusSink proves the one mandatory callback is enforced
// before any process is spawned.
func TestRunRequiresStatusSink(t *testing.T) {
	d := New(Config{Path: "sh", Argv: []string{"-c", "true"}})
	err := d.Run(context.Background())
	require.Error(t, err)
}

