package gpgme

import (
	"context"
	"io"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// fakeEngine returns a CommandFunc that ignores whatever argv the real
// operation builder produced and always runs script under sh, the same
// technique pkg/engine's own driver tests use: build()'s fixed fd-append
// order (status always fd 3) lets the script address fds literally.
func fakeEngine(script string) func(string, ...string) *exec.Cmd {
	return func(string, ...string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

func TestContextDecryptPlumbsThroughOpsAndEngine(t *testing.T) {
	requireSh(t)

	// status gets fd 3 (build()'s fixed first entry); Decrypt()'s two data
	// slots are appended in plaintext-then-ciphertext order, so plaintext
	// (the slot the child writes to) lands on fd 4.
	script := `
printf '[GNUPG:] DECRYPTION_INFO 2 9 0\n' >&3
printf '[GNUPG:] DECRYPTION_OKAY\n' >&3
printf 'the secret' >&4
exit 0
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	ciphertext := gpgdata.NewMemoryFromBytes([]byte("ignored"))
	plaintext := gpgdata.NewMemory()

	res, err := c.Decrypt(context.Background(), ciphertext, plaintext)
	require.NoError(t, err)
	assert.True(t, res.IsIntegrityProtected)
	assert.Equal(t, "the secret", string(plaintext.Bytes()))
}

func TestContextRefusesConcurrentOperations(t *testing.T) {
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.busy = true
	_, err := c.Decrypt(context.Background(), gpgdata.NewMemory(), gpgdata.NewMemory())
	require.Error(t, err)
	assert.True(t, gpgmeerr.Is(err, gpgmeerr.CodeInvalidValue))
}

func TestContextKeyListFuncAssemblesKeysFromColonRecords(t *testing.T) {
	requireSh(t)

	script := `
printf 'pub:u:2048:1:ABCDEF0123456789:::::::scaESCA:\n'
printf 'fpr:::::::::1111222233334444555566667777888899990000:\n'
printf 'uid:u::::::::Alice <alice@example.net>:\n'
printf 'pub:u:2048:1:FEDCBA9876543210:::::::scaESCA:\n'
printf 'fpr:::::::::00009999888877776666555544443333222211110000:\n'
exit 0
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	keys, err := c.KeyListEntries(context.Background(), false, []string{"alice"})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "ABCDEF0123456789", keys[0].KeyID)
	assert.Equal(t, "1111222233334444555566667777888899990000", keys[0].Fingerprint)
	require.Len(t, keys[0].UserIDs, 1)
	assert.Equal(t, "Alice <alice@example.net>", keys[0].UserIDs[0].Name)
	assert.Equal(t, "FEDCBA9876543210", keys[1].KeyID)
}

func TestContextSignerKeyIDsPreservesAddOrder(t *testing.T) {
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	k1 := NewKey("first")
	k1.KeyID = "KID1"
	k2 := NewKey("second")
	k2.KeyID = "KID2"
	c.AddSigner(k1)
	c.AddSigner(k2)
	assert.Equal(t, []string{"KID1", "KID2"}, c.SignerKeyIDs())
	assert.EqualValues(t, 2, k1.Refs())

	c.ClearSigners()
	assert.EqualValues(t, 1, k1.Refs())
	assert.Empty(t, c.SignerKeyIDs())
}

func TestContextIncludeCertsDefaultsToEngineDefault(t *testing.T) {
	c := New(ProtocolCMS, EngineBinding{Path: "gpgsm"})
	assert.Equal(t, -1, c.IncludeCerts())
	c.SetIncludeCerts(3)
	assert.Equal(t, 3, c.IncludeCerts())
}

func TestContextGenKeyCapturesFingerprintFromKeyCreated(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] KEY_CREATED B AAAABBBBCCCCDDDDEEEEFFFF0000111122223333\n' >&3
exit 0
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	fpr, err := c.GenKey(context.Background(), gpgdata.NewMemoryFromBytes([]byte("Key-Type: RSA\n")))
	require.NoError(t, err)
	assert.Equal(t, "AAAABBBBCCCCDDDDEEEEFFFF0000111122223333", fpr)
}

func TestContextPrependsEngineBindingExtraArgs(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] DECRYPTION_INFO 2 9 0\n' >&3
printf '[GNUPG:] DECRYPTION_OKAY\n' >&3
printf 'the secret' >&4
exit 0
`
	var gotArgv []string
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg", ExtraArgs: []string{"--options", "/custom/gpg.conf"}})
	c.CommandFunc = func(name string, argv ...string) *exec.Cmd {
		gotArgv = append([]string(nil), argv...)
		return exec.Command("sh", "-c", script)
	}

	_, err := c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), gpgdata.NewMemory())
	require.NoError(t, err)
	require.True(t, len(gotArgv) >= 2)
	assert.Equal(t, []string{"--options", "/custom/gpg.conf"}, gotArgv[:2])
}

func TestContextDecryptBlanksOutPlaintextOnDecryptionFailed(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] DECRYPTION_INFO 2 9 0\n' >&3
printf 'partial leak' >&4
printf '[GNUPG:] DECRYPTION_FAILED\n' >&3
exit 2
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	plaintext := gpgdata.NewMemory()
	_, err := c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), plaintext)
	require.Error(t, err)

	n, readErr := plaintext.Read(make([]byte, 32))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, readErr, io.EOF)
}

func TestContextDecryptBlanksOutPlaintextWhenNoDecryptionOkaySeen(t *testing.T) {
	requireSh(t)

	// Engine exits cleanly without ever printing DECRYPTION_OKAY.
	script := `
printf 'some bytes' >&4
exit 0
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	plaintext := gpgdata.NewMemory()
	_, err := c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), plaintext)
	require.Error(t, err)

	n, readErr := plaintext.Read(make([]byte, 32))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, readErr, io.EOF)
}

func TestContextDecryptIgnoreMDCErrorSuppressesBlankoutAndTerminalError(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] DECRYPTION_INFO 2 0 0\n' >&3
printf '[GNUPG:] DECRYPTION_OKAY\n' >&3
printf 'the secret' >&4
exit 0
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	plaintext := gpgdata.NewMemory()
	_, err := c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), plaintext)
	require.Error(t, err)
	assert.Equal(t, "the secret", string(plaintext.Bytes()))

	c.SetIgnoreMDCError(true)
	assert.True(t, c.IgnoreMDCError())

	plaintext2 := gpgdata.NewMemory()
	_, err = c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), plaintext2)
	require.NoError(t, err)
	assert.Equal(t, "the secret", string(plaintext2.Bytes()))
}

func TestContextDecryptRoutesPKDecryptFailedToken(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] ERROR pkdecrypt_failed 83886180\n' >&3
printf '[GNUPG:] DECRYPTION_FAILED\n' >&3
exit 2
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	_, err := c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), gpgdata.NewMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pkdecrypt_failed")
}

func TestContextDecryptRoutesSymkeyDecryptMaybeToken(t *testing.T) {
	requireSh(t)

	script := `
printf '[GNUPG:] ERROR symkey_decrypt.maybe_error 83886180\n' >&3
printf '[GNUPG:] DECRYPTION_FAILED\n' >&3
exit 2
`
	c := New(ProtocolOpenPGP, EngineBinding{Path: "gpg"})
	c.CommandFunc = fakeEngine(script)

	_, err := c.Decrypt(context.Background(), gpgdata.NewMemoryFromBytes([]byte("ignored")), gpgdata.NewMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symkey_decrypt.maybe_error")
}
