package gpgme

import (
	"context"

	"github.com/sasha-s/go-deadlock"

	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
)

// KeyCache is a fingerprint-keyed cache of *Key handles, supplementing the
// engine-driver spec with the lookup-dedup behavior
// original_source/trunk/gpgme/key-cache.c provides: repeated GetKey calls
// for the same fingerprint within one cache's lifetime reuse the same Key
// rather than re-running a keylist operation. The original hashes the first
// four fingerprint bytes into a fixed 503-bucket table with an explicit
// chain-length eviction policy; a plain Go map replaces that bucket table
// since Go's builtin map already gives the same O(1) lookup without the
// hand-rolled hashing C needed.
type KeyCache struct {
	mu    deadlock.RWMutex
	byFpr map[string]*Key
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{byFpr: make(map[string]*Key)}
}

// Add takes a reference on key and stores it under every fingerprint it
// carries (its own and each subkey's), replacing whatever was previously
// cached at that fingerprint. Mirrors _gpgme_key_cache_add's "newest copy
// wins" replacement rule.
func (c *KeyCache) Add(key *Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fprs := make(map[string]bool)
	if key.Fingerprint != "" {
		fprs[key.Fingerprint] = true
	}
	for _, sk := range key.Subkeys {
		if sk.Fingerprint != "" {
			fprs[sk.Fingerprint] = true
		}
	}
	if len(fprs) == 0 {
		return
	}

	key.Ref()
	for fpr := range fprs {
		if old, ok := c.byFpr[fpr]; ok {
			old.Unref()
		}
		c.byFpr[fpr] = key
	}
}

// Get returns the cached Key for fpr, taking a new reference on it, or nil
// if fpr isn't cached. Mirrors _gpgme_key_cache_get.
func (c *KeyCache) Get(fpr string) *Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.byFpr[fpr]
	if !ok {
		return nil
	}
	key.Ref()
	return key
}

// GetKey resolves fpr to a Key, consulting the cache first unless
// forceUpdate is set, and otherwise running a fresh keylist operation
// against binding and caching the result. Mirrors gpgme_get_key's
// cache-then-fallback shape, minus its own-context allocation dance (Go's
// KeyListFunc already avoids touching the caller's own I/O callbacks since
// it takes its callbacks as arguments rather than storing them on a shared
// Context).
func (c *KeyCache) GetKey(ctx context.Context, binding EngineBinding, fpr string, secret, forceUpdate bool) (*Key, error) {
	if len(fpr) < 16 {
		return nil, gpgmeerr.New(gpgmeerr.CodeInvalidValue, gpgmeerr.SourceUser, "gpgme: fingerprint %q too short to address a single key", fpr)
	}

	if !forceUpdate {
		if key := c.Get(fpr); key != nil {
			return key, nil
		}
	}

	lister := New(ProtocolOpenPGP, binding)
	keys, err := lister.KeyListEntries(ctx, secret, []string{fpr})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, gpgmeerr.New(gpgmeerr.CodeNoPubKey, gpgmeerr.SourceEngine, "gpgme: no key found for %s", fpr)
	}
	c.Add(keys[0])
	return keys[0], nil
}
