package gpgme

import (
	"context"
	"strconv"
	"strings"

	"github.com/gpgme-go/gogpgme/pkg/colon"
	"github.com/gpgme-go/gogpgme/pkg/engine"
	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
	"github.com/gpgme-go/gogpgme/pkg/opresult"
	"github.com/gpgme-go/gogpgme/pkg/ops"
	"github.com/gpgme-go/gogpgme/pkg/status"
)

// Decrypt runs a decrypt operation, feeding ciphertext's bytes to the
// engine and plaintext with the recovered data, per spec §4.5.
func (c *Context) Decrypt(ctx context.Context, ciphertext, plaintext gpgdata.Object) (*opresult.DecryptResult, error) {
	if c.Busy() {
		return nil, gpgmeerr.New(gpgmeerr.CodeInvalidValue, gpgmeerr.SourceEngine, "gpgme: context already has an operation in flight")
	}
	plan := ops.Decrypt(ciphertext, plaintext)
	res, err := opresult.Lookup(c.chain, opresult.Key{Kind: opresult.KindDecrypt}, func() *opresult.DecryptResult { return &opresult.DecryptResult{} })
	if err != nil {
		return nil, err
	}

	ignoreMDCError := c.IgnoreMDCError()

	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error {
			dispatchDecryptEvent(res, ev, plaintext, ignoreMDCError)
			return nil
		},
		Passphrase: c.composePassphraseFunc(),
		Progress:   c.progressCallback(),
	}

	runErr := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)

	// Run-end poisoning: the engine exited (or the status stream hit EOF)
	// without ever reporting DECRYPTION_OKAY, so whatever plaintext bytes
	// made it through must not be trusted (spec §4.8's "no OKAY" case).
	// DECRYPTION_FAILED itself is poisoned as soon as it's seen, below.
	if !res.DecryptionOkay() && !ignoreMDCError {
		gpgdata.SetBlankout(plaintext.Serial(), true)
	}

	if termErr := res.TerminalError(runErr, ignoreMDCError); termErr != nil {
		return res, termErr
	}
	return res, nil
}

func dispatchDecryptEvent(res *opresult.DecryptResult, ev status.Event, plaintext gpgdata.Object, ignoreMDCError bool) {
	switch ev.Keyword {
	case status.KeywordDecryptionInfo:
		fields := strings.Fields(ev.Args)
		mdc := len(fields) > 1 && fields[1] != "0"
		res.MarkDecryptionInfo(mdc)
	case status.KeywordDecryptionOkay:
		res.MarkDecryptionOkay()
	case status.KeywordDecryptionFailed:
		res.MarkDecryptionFailed()
		if !ignoreMDCError {
			gpgdata.SetBlankout(plaintext.Serial(), true)
		}
	case status.KeywordNoSeckey:
		res.NoSecKeySeen = true
	case status.KeywordSessionKey:
		res.SessionKey = ev.Args
	case status.KeywordPlaintext:
		fields := strings.Fields(ev.Args)
		if len(fields) > 0 {
			res.IsMIME = fields[0] == "1"
		}
	case status.KeywordError:
		fields := strings.Fields(ev.Args)
		token := ""
		if len(fields) > 0 {
			token = fields[0]
		}
		switch token {
		case "pkdecrypt_failed":
			res.MarkPKDecryptFailed(gpgmeerr.New(gpgmeerr.CodeDecryptionFailed, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
		case "symkey_decrypt.maybe_error":
			res.MarkSymkeyDecryptMaybe(gpgmeerr.New(gpgmeerr.CodeDecryptionFailed, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
		default:
			res.MarkFirstError(gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
		}
	}
}

// Sign runs a sign operation; the signer key IDs come from the Context's
// own signer list (SignerKeyIDs), so callers just pick the mode.
func (c *Context) Sign(ctx context.Context, mode ops.SignMode, plaintext, signature gpgdata.Object) (*opresult.SignResult, error) {
	plan := ops.Sign(mode, c.Armor(), c.TextMode(), c.SignerKeyIDs(), plaintext, signature)
	res, err := opresult.Lookup(c.chain, opresult.Key{Kind: opresult.KindSign}, func() *opresult.SignResult { return &opresult.SignResult{} })
	if err != nil {
		return nil, err
	}

	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error {
			dispatchSignEvent(res, ev)
			return nil
		},
		Passphrase: c.composePassphraseFunc(),
		Progress:   c.progressCallback(),
	}

	runErr := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
	if termErr := res.TerminalError(runErr); termErr != nil {
		return res, termErr
	}
	return res, nil
}

func dispatchSignEvent(res *opresult.SignResult, ev status.Event) {
	switch ev.Keyword {
	case status.KeywordSigCreated:
		fields := strings.Fields(ev.Args)
		sig := opresult.SignatureCreated{}
		if len(fields) > 0 {
			sig.Mode = fields[0]
		}
		if len(fields) > 1 {
			sig.PubkeyAlgo, _ = strconv.Atoi(fields[1])
		}
		if len(fields) > 2 {
			sig.HashAlgo, _ = strconv.Atoi(fields[2])
		}
		if len(fields) > 3 {
			sig.Class, _ = strconv.Atoi(fields[3])
		}
		if len(fields) > 4 {
			sig.Timestamp, _ = strconv.ParseInt(fields[4], 10, 64)
		}
		if len(fields) > 5 {
			sig.Fingerprint = fields[5]
		}
		res.Signatures = append(res.Signatures, sig)
	case status.KeywordError:
		res.MarkFirstError(gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
	}
}

// Encrypt runs an encrypt operation for recipientKeyIDs.
func (c *Context) Encrypt(ctx context.Context, alwaysTrust bool, recipientKeyIDs []string, plaintext, ciphertext gpgdata.Object) (*opresult.EncryptResult, error) {
	plan := ops.Encrypt(c.Armor(), alwaysTrust, recipientKeyIDs, plaintext, ciphertext)
	res, err := opresult.Lookup(c.chain, opresult.Key{Kind: opresult.KindEncrypt}, func() *opresult.EncryptResult { return &opresult.EncryptResult{} })
	if err != nil {
		return nil, err
	}

	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error {
			dispatchEncryptEvent(res, ev)
			return nil
		},
		Progress: c.progressCallback(),
	}

	runErr := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
	if termErr := res.TerminalError(runErr); termErr != nil {
		return res, termErr
	}
	return res, nil
}

func dispatchEncryptEvent(res *opresult.EncryptResult, ev status.Event) {
	switch ev.Keyword {
	case status.KeywordNodata:
		res.NoRecipients = true
	case status.KeywordError:
		res.MarkFirstError(gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
	}
}

// Verify runs a verify operation. sig is nil for an opaque/normal signature.
func (c *Context) Verify(ctx context.Context, sig, signedText, plaintextOut gpgdata.Object) (*opresult.VerifyResult, error) {
	plan := ops.Verify(sig, signedText, plaintextOut)
	res, err := opresult.Lookup(c.chain, opresult.Key{Kind: opresult.KindVerify}, func() *opresult.VerifyResult { return &opresult.VerifyResult{} })
	if err != nil {
		return nil, err
	}

	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error {
			dispatchVerifyEvent(res, ev)
			return nil
		},
	}

	runErr := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
	if termErr := res.TerminalError(runErr); termErr != nil {
		return res, termErr
	}
	return res, nil
}

func dispatchVerifyEvent(res *opresult.VerifyResult, ev status.Event) {
	switch ev.Keyword {
	case status.KeywordGoodsig, status.KeywordBadsig, status.KeywordExpsig, status.KeywordExpkeysig, status.KeywordErrsig:
		fields := strings.Fields(ev.Args)
		sv := opresult.SignatureVerification{}
		if len(fields) > 0 {
			sv.Fingerprint = fields[0]
		}
		switch ev.Keyword {
		case status.KeywordBadsig:
			sv.Status = gpgmeerr.New(gpgmeerr.CodeBadSignature, gpgmeerr.SourceEngine, "BADSIG %s", ev.Args)
		case status.KeywordExpsig:
			sv.Status = gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "EXPSIG %s", ev.Args)
		case status.KeywordExpkeysig:
			sv.Status = gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "EXPKEYSIG %s", ev.Args)
		case status.KeywordErrsig:
			sv.Status = gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "ERRSIG %s", ev.Args)
		}
		res.Signatures = append(res.Signatures, sv)
	case status.KeywordNodata:
		res.MarkNoData()
	case status.KeywordNotationName:
		if len(res.Signatures) > 0 {
			last := &res.Signatures[len(res.Signatures)-1]
			last.Notations = append(last.Notations, opresult.Notation{Name: ev.Args})
		}
	case status.KeywordNotationData:
		if len(res.Signatures) > 0 {
			last := &res.Signatures[len(res.Signatures)-1]
			if n := len(last.Notations); n > 0 {
				last.Notations[n-1].Value += ev.Args
			}
		}
	case status.KeywordPolicyURL:
		if len(res.Signatures) > 0 {
			last := &res.Signatures[len(res.Signatures)-1]
			last.PolicyURLs = append(last.PolicyURLs, ev.Args)
		}
	case status.KeywordError:
		res.MarkFirstError(gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
	}
}

// Import runs an import operation over keyData.
func (c *Context) Import(ctx context.Context, keyData gpgdata.Object) (*opresult.ImportResult, error) {
	plan := ops.Import(keyData)
	res, err := opresult.Lookup(c.chain, opresult.Key{Kind: opresult.KindImport}, func() *opresult.ImportResult { return &opresult.ImportResult{} })
	if err != nil {
		return nil, err
	}

	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error {
			dispatchImportEvent(res, ev)
			return nil
		},
	}

	runErr := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
	if termErr := res.TerminalError(runErr); termErr != nil {
		return res, termErr
	}
	return res, nil
}

func dispatchImportEvent(res *opresult.ImportResult, ev status.Event) {
	switch ev.Keyword {
	case status.KeywordImportOk:
		fields := strings.Fields(ev.Args)
		entry := opresult.ImportStatus{}
		if len(fields) > 0 {
			entry.StatusFlags, _ = strconv.Atoi(fields[0])
		}
		if len(fields) > 1 {
			entry.Fingerprint = fields[1]
		}
		res.Statuses = append(res.Statuses, entry)
		res.Imported++
	case status.KeywordImportProblem:
		fields := strings.Fields(ev.Args)
		st := opresult.ImportStatus{}
		if len(fields) > 0 {
			st.Problem = fields[0]
		}
		if len(fields) > 1 {
			st.Fingerprint = fields[1]
		}
		res.Statuses = append(res.Statuses, st)
		res.NotImported++
	case status.KeywordImportRes:
		fields := strings.Fields(ev.Args)
		ints := make([]int, len(fields))
		for i, f := range fields {
			ints[i], _ = strconv.Atoi(f)
		}
		assignImportRes(res, ints)
	case status.KeywordError:
		res.MarkFirstError(gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "ERROR %s", ev.Args))
	}
}

// assignImportRes maps IMPORT_RES's fixed 12-field layout onto ImportResult,
// per original_source/trunk/gpgme/import.c's field order.
func assignImportRes(res *opresult.ImportResult, f []int) {
	get := func(i int) int {
		if i < len(f) {
			return f[i]
		}
		return 0
	}
	res.Considered = get(0)
	res.NoUserID = get(1)
	res.Imported = get(2)
	res.ImportedRSA = get(3)
	res.Unchanged = get(4)
	res.NewUserIDs = get(5)
	res.NewSubkeys = get(6)
	res.NewSignatures = get(7)
	res.NewRevocations = get(8)
	res.SecretRead = get(9)
	res.SecretImported = get(10)
	res.SecretUnchanged = get(11)
}

// KeyListEntries runs a keylist operation, blocking until the engine exits,
// and returns the assembled keys. KeyListFunc delivers the same keys one at
// a time for callers that want results incrementally; this helper is the
// common "just give me the slice" case.
func (c *Context) KeyListEntries(ctx context.Context, secretOnly bool, patterns []string) ([]*Key, error) {
	var keys []*Key
	err := c.KeyListFunc(ctx, secretOnly, patterns, func(k *Key) {
		keys = append(keys, k)
	})
	return keys, err
}

// KeyListFunc runs a keylist operation, calling onKey once per completed
// key record (a run of pub/sub/fpr/uid colon records terminated by the
// next pub/sec/crt/crs record or end of stream), per spec §3's "KeyListEvent
// is emitted, not accumulated" rule.
func (c *Context) KeyListFunc(ctx context.Context, secretOnly bool, patterns []string, onKey func(*Key)) error {
	mode := ops.KeyListLocal
	if secretOnly {
		mode = ops.KeyListSecretOnly
	}
	plan := ops.KeyList(mode, patterns)

	var cur *Key
	flush := func() {
		if cur != nil {
			onKey(cur)
			cur = nil
		}
	}

	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error { return nil },
		ColonSink: func(rec colon.Record) {
			switch rec.Type {
			case colon.RecordPub, colon.RecordSec, colon.RecordCrt, colon.RecordCrs:
				flush()
				cur = NewKey("")
			}
			if cur != nil {
				cur.applyRecord(rec)
			}
		},
	}

	runErr := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
	flush()
	return runErr
}

// Export runs an export operation.
func (c *Context) Export(ctx context.Context, patterns []string, out gpgdata.Object) error {
	plan := ops.Export(c.Armor(), patterns, out)
	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error { return nil },
	}
	return c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
}

// GenKey runs a batch key-generation operation.
func (c *Context) GenKey(ctx context.Context, params gpgdata.Object) (string, error) {
	plan := ops.GenKey(params)
	var fingerprint string
	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error {
			if ev.Keyword == status.KeywordKeyCreated {
				fields := strings.Fields(ev.Args)
				if len(fields) > 1 {
					fingerprint = fields[1]
				}
			}
			return nil
		},
	}
	err := c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
	return fingerprint, err
}

// DeleteKey runs a key-deletion operation.
func (c *Context) DeleteKey(ctx context.Context, secretToo bool, fingerprint string) error {
	plan := ops.Delete(secretToo, fingerprint)
	callbacks := engine.Callbacks{
		StatusSink: func(ev status.Event) error { return nil },
	}
	return c.run(ctx, plan.Argv, plan.DataSlots, plan.NeedColon, plan.NeedCommand, callbacks)
}
