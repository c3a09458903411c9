// Package opresult implements C8, the operation-result accumulator: a
// per-context chain of typed hooks keyed by (operation kind, sub-role),
// written exclusively by the status handler during one operation and read
// by the caller once it completes.
//
// Grounded on spec §4.8 for the find-or-create-or-refuse lookup semantics,
// and on the teacher's pkg/gui/presentation-style "one struct per concern,
// populated incrementally, read once" pattern (e.g. pkg/commands/pod.go's
// PodInfo accumulated across several docker inspect calls before being
// handed back).
package opresult

import (
	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
)

// Kind names an operation family.
type Kind int

const (
	KindDecrypt Kind = iota
	KindSign
	KindEncrypt
	KindVerify
	KindImport
	KindKeyList
	KindGenKey
	KindDelete
)

// SubRole distinguishes concurrent hooks of the same Kind in one op (e.g.
// edit-key's linked data object versus its command-reply stream). Most
// operations only ever use SubRoleDefault.
type SubRole int

const (
	SubRoleDefault SubRole = iota
	SubRoleLinkedData
)

// Key identifies one hook slot in the chain.
type Key struct {
	Kind    Kind
	SubRole SubRole
}

// Hook is the common handle every accumulator embeds: its chain key and an
// optional destructor run when the chain is cleared.
type Hook struct {
	Key     Key
	Destroy func()
}

// Chain is the per-context hook registry. A context owns exactly one,
// cleared when each operation run finishes (gpgme.Context.run); results
// already handed to the caller stay valid.
type Chain struct {
	hooks map[Key]any
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{hooks: make(map[Key]any)}
}

// Lookup finds the hook at key, creating it with newHook if absent. It
// refuses (returns an error) if a hook already exists at key with a
// different concrete type than newHook would produce — callers pass a
// same-shaped constructor every time for a given Kind, so this only fires
// on a genuine double-registration bug.
func Lookup[T any](c *Chain, key Key, newHook func() *T) (*T, error) {
	if existing, ok := c.hooks[key]; ok {
		t, ok := existing.(*T)
		if !ok {
			return nil, gpgmeerr.New(gpgmeerr.CodeConflict, gpgmeerr.SourceEngine,
				"opresult: hook slot %v already holds a different type", key)
		}
		return t, nil
	}
	t := newHook()
	c.hooks[key] = t
	return t, nil
}

// Clear runs every hook's destructor (if set) and empties the chain, per
// spec §4.8's "destructor called when the chain is cleared" rule.
func (c *Chain) Clear() {
	for _, v := range c.hooks {
		if h, ok := v.(interface{ hookDestroy() }); ok {
			h.hookDestroy()
		}
	}
	c.hooks = make(map[Key]any)
}

// DecryptResult is C8's decrypt-shaped accumulator (spec §3). The unexported
// sawX bookkeeping fields exist only to feed TerminalError's priority
// table (spec §4.9); they are mutated through the MarkX methods so the
// status handler in pkg/gpgme never reaches into raw accumulator state.
type DecryptResult struct {
	UnsupportedAlgorithm string
	WrongKeyUsage        bool
	Recipients           []Recipient
	SymkeyAlgo           string
	SessionKey           string
	FileName             string
	IsMIME               bool
	IsIntegrityProtected bool
	LegacyCipherNoMDC    bool
	ComplianceFlags      []string
	NoSecKeySeen         bool

	sawDecryptionInfo     bool
	sawDecryptionOkay     bool
	sawDecryptionFailed   bool
	sawPKDecryptFailed    error
	sawSymkeyDecryptMaybe error
	sawFirstError         error
	listOnly              bool
}

// Recipient is one decrypt recipient-status entry.
type Recipient struct {
	KeyID      string
	PubkeyAlgo string
	Status     error
}

func (d *DecryptResult) MarkDecryptionInfo(integrityProtected bool) {
	d.sawDecryptionInfo = true
	d.IsIntegrityProtected = integrityProtected
}
func (d *DecryptResult) MarkDecryptionOkay()   { d.sawDecryptionOkay = true }
func (d *DecryptResult) MarkDecryptionFailed() { d.sawDecryptionFailed = true }

func (d *DecryptResult) MarkPKDecryptFailed(err error)    { d.sawPKDecryptFailed = err }
func (d *DecryptResult) MarkSymkeyDecryptMaybe(err error) { d.sawSymkeyDecryptMaybe = err }

// DecryptionOkay reports whether a DECRYPTION_OKAY status line has been
// seen, the signal Decrypt's run-end blankout check keys on.
func (d *DecryptResult) DecryptionOkay() bool { return d.sawDecryptionOkay }
func (d *DecryptResult) MarkFirstError(err error) {
	if d.sawFirstError == nil {
		d.sawFirstError = err
	}
}
func (d *DecryptResult) SetListOnly(v bool) { d.listOnly = v }

// TerminalError implements spec §4.9's 9-entry decrypt priority table.
// engineFailure is the error the engine driver's run returned (pipe,
// inquiry or cancellation failures), ranked in the table's FAILURE slot;
// FAILURE status lines themselves are not recorded. ignoreMDCError mirrors
// the context override of the same name.
func (d *DecryptResult) TerminalError(engineFailure error, ignoreMDCError bool) error {
	switch {
	case d.sawPKDecryptFailed != nil:
		return d.sawPKDecryptFailed
	case d.sawSymkeyDecryptMaybe != nil:
		return d.sawSymkeyDecryptMaybe
	case d.sawDecryptionInfo && !d.IsIntegrityProtected && !ignoreMDCError:
		return gpgmeerr.New(gpgmeerr.CodeNoData, gpgmeerr.SourceEngine, "decryption succeeded but plaintext is not integrity-protected")
	case d.sawFirstError != nil:
		return d.sawFirstError
	case d.NoSecKeySeen:
		return gpgmeerr.New(gpgmeerr.CodeNoSecKey, gpgmeerr.SourceEngine, "no secret key available")
	case d.sawDecryptionFailed:
		return gpgmeerr.New(gpgmeerr.CodeDecryptionFailed, gpgmeerr.SourceEngine, "decryption failed")
	case !d.sawDecryptionOkay && !d.listOnly:
		return gpgmeerr.New(gpgmeerr.CodeNoData, gpgmeerr.SourceEngine, "no decryption occurred")
	case engineFailure != nil:
		return engineFailure
	default:
		return nil
	}
}

// SignResult is C8's sign-shaped accumulator.
type SignResult struct {
	Signatures     []SignatureCreated
	InvalidSigners []InvalidSigner

	sawInvalidSigner error
	sawFirstError    error
}

func (s *SignResult) MarkInvalidSigner(err error) {
	if s.sawInvalidSigner == nil {
		s.sawInvalidSigner = err
	}
}
func (s *SignResult) MarkFirstError(err error) {
	if s.sawFirstError == nil {
		s.sawFirstError = err
	}
}

// TerminalError implements the sign priority table: an invalid signer
// outranks any other error, then the first ERROR line, then the error the
// driver run returned, then success if at least one signature was created
// (CodeGeneral if none was).
func (s *SignResult) TerminalError(engineFailure error) error {
	switch {
	case s.sawInvalidSigner != nil:
		return s.sawInvalidSigner
	case s.sawFirstError != nil:
		return s.sawFirstError
	case engineFailure != nil:
		return engineFailure
	case len(s.Signatures) == 0:
		return gpgmeerr.New(gpgmeerr.CodeGeneral, gpgmeerr.SourceEngine, "sign produced no signature")
	default:
		return nil
	}
}

// SignatureCreated describes one SIG_CREATED status line.
type SignatureCreated struct {
	Mode        string
	PubkeyAlgo  int
	HashAlgo    int
	Class       int
	Timestamp   int64
	Fingerprint string
}

// InvalidSigner names a signer the engine rejected.
type InvalidSigner struct {
	Fingerprint string
	Reason      error
}

// EncryptResult is C8's encrypt-shaped accumulator.
type EncryptResult struct {
	InvalidRecipients []InvalidRecipient
	NoRecipients      bool

	sawFirstError error
}

func (e *EncryptResult) MarkFirstError(err error) {
	if e.sawFirstError == nil {
		e.sawFirstError = err
	}
}

// TerminalError mirrors sign's shape: an invalid-recipient or no-recipients
// condition outranks the first ERROR line, which outranks the error the
// driver run returned.
func (e *EncryptResult) TerminalError(engineFailure error) error {
	switch {
	case len(e.InvalidRecipients) > 0:
		return e.InvalidRecipients[0].Reason
	case e.NoRecipients:
		return gpgmeerr.New(gpgmeerr.CodeNoPubKey, gpgmeerr.SourceEngine, "no recipients")
	case e.sawFirstError != nil:
		return e.sawFirstError
	case engineFailure != nil:
		return engineFailure
	default:
		return nil
	}
}

// InvalidRecipient names a recipient the engine rejected.
type InvalidRecipient struct {
	Fingerprint string
	Reason      error
}

// VerifyResult is C8's verify-shaped accumulator: one entry per signature.
// Per spec.md §8 scenario 5, a bad individual signature never fails the
// operation itself — only NODATA, an ERROR line, or the driver run's own
// error do, tracked separately.
type VerifyResult struct {
	Signatures []SignatureVerification

	sawNoData     bool
	sawFirstError error
}

func (v *VerifyResult) MarkNoData()        { v.sawNoData = true }
func (v *VerifyResult) MarkFirstError(err error) {
	if v.sawFirstError == nil {
		v.sawFirstError = err
	}
}

func (v *VerifyResult) TerminalError(engineFailure error) error {
	switch {
	case v.sawNoData:
		return gpgmeerr.New(gpgmeerr.CodeNoData, gpgmeerr.SourceEngine, "no signed data found")
	case v.sawFirstError != nil:
		return v.sawFirstError
	case engineFailure != nil:
		return engineFailure
	default:
		return nil
	}
}

// SignatureVerification is one verified (or failed) signature.
type SignatureVerification struct {
	Fingerprint string
	Status      error
	Validity    int
	Summary     uint32
	Timestamp   int64
	ExpireTime  int64
	WrongKeyUsage bool
	Notations   []Notation
	PolicyURLs  []string
	TrustError  string
}

// Notation is one NOTATION_NAME/NOTATION_DATA pair.
type Notation struct {
	Name  string
	Value string
}

// ImportResult is C8's import-shaped accumulator.
type ImportResult struct {
	Considered      int
	NoUserID        int
	Imported        int
	ImportedRSA     int
	Unchanged       int
	NewUserIDs      int
	NewSubkeys      int
	NewSignatures   int
	NewRevocations  int
	SecretRead      int
	SecretImported  int
	SecretUnchanged int
	NotImported     int
	Statuses        []ImportStatus

	firstError error
}

// ImportStatus is one IMPORT_OK/IMPORT_PROBLEM line.
type ImportStatus struct {
	Fingerprint string
	StatusFlags int
	Problem     string
}

func (i *ImportResult) MarkFirstError(err error) {
	if i.firstError == nil {
		i.firstError = err
	}
}

// TerminalError: the IMPORT_RES aggregate drives success; an ERROR line or
// a driver run error seen alongside zero successful imports surfaces
// no-data.
func (i *ImportResult) TerminalError(engineFailure error) error {
	switch {
	case i.Imported > 0 || i.SecretImported > 0 || i.Unchanged > 0:
		return nil
	case i.firstError != nil:
		return gpgmeerr.New(gpgmeerr.CodeNoData, gpgmeerr.SourceEngine, "import failed: %v", i.firstError)
	case engineFailure != nil:
		return gpgmeerr.New(gpgmeerr.CodeNoData, gpgmeerr.SourceEngine, "import failed: %v", engineFailure)
	default:
		return nil
	}
}

// KeyListEvent describes a keylist event rather than a Chain hook. No
// package emits it: pkg/gpgme's KeyListFunc streams assembled *Key values
// to the caller instead.
type KeyListEvent struct {
	Truncated bool
}
