// Package gpgme implements C10, the Context: the public-facing handle that
// binds a protocol, a set of mode flags, a signer list, and the engine
// callbacks together, and drives one operation at a time through
// pkg/engine.
package gpgme

import (
	"sync/atomic"

	"github.com/gpgme-go/gogpgme/pkg/colon"
)

// Key is a shared, reference-counted handle to one engine-reported key,
// built up from a keylist operation's colon records. Reimplemented here as
// atomic-refcount shared ownership per SPEC_FULL.md §9's shared-key-reference
// note — the original uses manual C refcounting on the struct.
type Key struct {
	Fingerprint string
	KeyID       string
	UserIDs     []UserID
	Subkeys     []Subkey
	Revoked     bool
	Expired     bool
	Disabled    bool
	Invalid     bool
	Validity    colon.Validity
	Protocol    Protocol

	refs int32
}

// UserID is one uid record attached to a Key.
type UserID struct {
	Name     string
	Validity colon.Validity
	Revoked  bool
	Invalid  bool
}

// Subkey is one sub/ssb record attached to a Key.
type Subkey struct {
	KeyID        string
	Fingerprint  string
	PubkeyAlgo   int
	Length       int
	Capabilities colon.Capabilities
	Revoked      bool
	Expired      bool
	Disabled     bool
}

// NewKey returns a Key with one reference already held.
func NewKey(fingerprint string) *Key {
	return &Key{Fingerprint: fingerprint, refs: 1}
}

// Ref increments the shared reference count, for every holder that outlives
// the call that handed the Key to it (e.g. a context's signer list).
func (k *Key) Ref() { atomic.AddInt32(&k.refs, 1) }

// Unref releases one reference; the last release is a caller-observable
// no-op here (no finalizer is needed since Go's GC reclaims the struct once
// nothing holds a reference to it — the atomic count exists only so callers
// can assert on it, per spec.md §9's "reimplement as atomic counts" note).
func (k *Key) Unref() int32 { return atomic.AddInt32(&k.refs, -1) }

// Refs reports the current reference count, for tests.
func (k *Key) Refs() int32 { return atomic.LoadInt32(&k.refs) }

// applyRecord folds one colon.Record into the Key being assembled by a
// keylist operation. Grounded on original_source/trunk/gpgme/key-cache.c's
// field layout for pub/sub/fpr/uid records.
func (k *Key) applyRecord(rec colon.Record) {
	switch rec.Type {
	case colon.RecordPub, colon.RecordSec, colon.RecordCrt, colon.RecordCrs:
		k.KeyID = rec.Field(5)
		v := colon.ParseValidity(rec.Field(2))
		k.Validity = v
		switch v {
		case colon.ValidityRevoked:
			k.Revoked = true
		case colon.ValidityExpired:
			k.Expired = true
		case colon.ValidityDisabled:
			k.Disabled = true
		case colon.ValidityInvalid:
			k.Invalid = true
		}
		caps := colon.ParseCapabilities(rec.Field(12))
		k.Subkeys = append(k.Subkeys, Subkey{
			KeyID:        rec.Field(5),
			PubkeyAlgo:   rec.FieldInt(4),
			Length:       rec.FieldInt(3),
			Capabilities: caps,
			Revoked:      k.Revoked,
			Expired:      k.Expired,
			Disabled:     caps.Disabled,
		})
	case colon.RecordSub, colon.RecordSsb:
		caps := colon.ParseCapabilities(rec.Field(12))
		k.Subkeys = append(k.Subkeys, Subkey{
			KeyID:        rec.Field(5),
			PubkeyAlgo:   rec.FieldInt(4),
			Length:       rec.FieldInt(3),
			Capabilities: caps,
			Disabled:     caps.Disabled,
		})
	case colon.RecordFpr:
		if len(k.Subkeys) > 0 {
			k.Subkeys[len(k.Subkeys)-1].Fingerprint = rec.Field(10)
		}
		if k.Fingerprint == "" {
			k.Fingerprint = rec.Field(10)
		}
	case colon.RecordUID:
		k.UserIDs = append(k.UserIDs, UserID{
			Name:     colon.UnescapeUserID(rec.Field(10)),
			Validity: colon.ParseValidity(rec.Field(2)),
		})
	}
}
