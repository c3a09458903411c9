package opresult

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCreatesOnFirstCall(t *testing.T) {
	c := NewChain()
	key := Key{Kind: KindDecrypt, SubRole: SubRoleDefault}

	created := 0
	hook, err := Lookup(c, key, func() *DecryptResult {
		created++
		return &DecryptResult{}
	})
	require.NoError(t, err)
	require.NotNil(t, hook)
	assert.Equal(t, 1, created)

	hook2, err := Lookup(c, key, func() *DecryptResult {
		created++
		return &DecryptResult{}
	})
	require.NoError(t, err)
	assert.Same(t, hook, hook2)
	assert.Equal(t, 1, created, "second lookup must not re-create")
}

func TestLookupRefusesTypeMismatch(t *testing.T) {
	c := NewChain()
	key := Key{Kind: KindSign}

	_, err := Lookup(c, key, func() *DecryptResult { return &DecryptResult{} })
	require.NoError(t, err)

	_, err = Lookup(c, key, func() *SignResult { return &SignResult{} })
	assert.Error(t, err)
}

func TestDecryptTerminalErrorPriorityOrder(t *testing.T) {
	pk := errors.New("pkdecrypt failed")
	d := &DecryptResult{}
	d.MarkPKDecryptFailed(pk)
	d.MarkDecryptionFailed()
	assert.Equal(t, pk, d.TerminalError(nil, false))
}

func TestDecryptTerminalErrorIntegrityBeatsGenericFailure(t *testing.T) {
	d := &DecryptResult{}
	d.MarkDecryptionInfo(false)
	d.MarkDecryptionOkay()
	d.MarkDecryptionFailed()
	err := d.TerminalError(nil, false)
	require.Error(t, err)

	// ignore-mdc-error override suppresses that rule, falling through to
	// the decryption-failed entry instead.
	err2 := d.TerminalError(nil, true)
	require.Error(t, err2)
}

func TestDecryptTerminalErrorSuccessWhenOkay(t *testing.T) {
	d := &DecryptResult{}
	d.MarkDecryptionInfo(true)
	d.MarkDecryptionOkay()
	assert.NoError(t, d.TerminalError(nil, false))
}

func TestDecryptTerminalErrorNoDataWhenNothingHappened(t *testing.T) {
	d := &DecryptResult{}
	err := d.TerminalError(nil, false)
	require.Error(t, err)
}

func TestDecryptTerminalErrorListOnlySuppressesNoData(t *testing.T) {
	d := &DecryptResult{}
	d.SetListOnly(true)
	assert.NoError(t, d.TerminalError(nil, false))
}

func TestSignTerminalErrorInvalidSignerWins(t *testing.T) {
	s := &SignResult{Signatures: []SignatureCreated{{Mode: "detach"}}}
	invalid := errors.New("invalid signer")
	s.MarkInvalidSigner(invalid)
	s.MarkFirstError(errors.New("some other error"))
	assert.Equal(t, invalid, s.TerminalError(nil))
}

func TestSignTerminalErrorSuccessWithSignatures(t *testing.T) {
	s := &SignResult{Signatures: []SignatureCreated{{Mode: "detach"}}}
	assert.NoError(t, s.TerminalError(nil))
}

func TestVerifyNeverFailsOnBadSignatureAlone(t *testing.T) {
	v := &VerifyResult{Signatures: []SignatureVerification{
		{Fingerprint: "AAA", Status: errors.New("bad signature")},
	}}
	assert.NoError(t, v.TerminalError(nil))
}

func TestVerifyFailsOnNoData(t *testing.T) {
	v := &VerifyResult{}
	v.MarkNoData()
	assert.Error(t, v.TerminalError(nil))
}

func TestImportSuccessWhenAnyImported(t *testing.T) {
	i := &ImportResult{Imported: 1}
	i.MarkFirstError(errors.New("should be ignored"))
	assert.NoError(t, i.TerminalError(nil))
}

func TestImportFailsWhenNothingImported(t *testing.T) {
	i := &ImportResult{}
	assert.Error(t, i.TerminalError(errors.New("gpg exited 2")))
}

func TestEncryptNoRecipientsIsTerminal(t *testing.T) {
	e := &EncryptResult{NoRecipients: true}
	assert.Error(t, e.TerminalError(nil))
}
