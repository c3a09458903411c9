package gpgme

import (
	"context"
	"os/exec"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/gpgme-go/gogpgme/pkg/engine"
	"github.com/gpgme-go/gogpgme/pkg/gpgmeerr"
	"github.com/gpgme-go/gogpgme/pkg/opresult"
)

// Protocol selects which engine backs a Context: OpenPGP speaks to gpg,
// CMS speaks to gpgsm. Grounded on original_source/trunk/gpgme/gpgme.h's
// gpgme_protocol_t.
type Protocol int

const (
	ProtocolOpenPGP Protocol = iota
	ProtocolCMS
)

// KeyListMode mirrors gpgme_keylist_mode_t's bitmask, restricted to the
// subset spec.md's keylist operation actually branches on.
type KeyListMode int

const (
	KeyListModeLocal    KeyListMode = iota
	KeyListModeExtern               // reserved: not wired to an engine path yet
	KeyListModeSigs
	KeyListModeValidate
)

// EngineBinding names the child binary and working environment a Context
// dispatches operations to; one per Protocol, set by pkg/engineconfig.
type EngineBinding struct {
	Path    string
	Version string
	HomeDir string
	Env     []string
	// ExtraArgs are inserted right after Path's own argv[0] slot, ahead of
	// every operation's own flags, letting an engines.yml override add
	// engine-wide options (e.g. "--options /custom/gpg.conf").
	ExtraArgs []string
}

// Context is C10: the public handle spec §3 describes as binding a
// protocol, mode flags, a signer list, and the engine callbacks together,
// driving exactly one operation at a time. Reimplemented here as a plain
// struct guarded by a deadlock.Mutex rather than the original's own
// allocator/refcount pair, per the teacher's pkg/commands/pod.go and
// pkg/gui/gui.go idiom of a deadlock.Mutex-guarded struct of plain fields.
type Context struct {
	mu deadlock.Mutex

	protocol Protocol
	engine   EngineBinding

	armor          bool
	textmode       bool
	keylistMode    KeyListMode
	includeCerts   int
	ignoreMDCError bool

	signers []*Key

	passphraseFunc func(uidHint string, prevWasBad bool) (string, error)
	progressFunc   func(what, typ string, cur, total int)

	localeCType    string
	localeMessages string

	chain *opresult.Chain
	busy  bool

	Logger *logrus.Entry
	// CommandFunc overrides how the child engine process is constructed;
	// nil uses exec.Command. Exposed for tests, mirroring
	// engine.Config.CommandFunc.
	CommandFunc func(string, ...string) *exec.Cmd
}

// New returns an idle Context bound to proto, using binding to locate and
// configure the child engine.
func New(proto Protocol, binding EngineBinding) *Context {
	return &Context{
		protocol:     proto,
		engine:       binding,
		includeCerts: -1, // gpgme's "use the engine's default" sentinel
		chain:        opresult.NewChain(),
	}
}

// Protocol reports the protocol the Context was created with.
func (c *Context) Protocol() Protocol { return c.protocol }

func (c *Context) SetArmor(v bool)    { c.mu.Lock(); defer c.mu.Unlock(); c.armor = v }
func (c *Context) Armor() bool        { c.mu.Lock(); defer c.mu.Unlock(); return c.armor }
func (c *Context) SetTextMode(v bool) { c.mu.Lock(); defer c.mu.Unlock(); c.textmode = v }
func (c *Context) TextMode() bool     { c.mu.Lock(); defer c.mu.Unlock(); return c.textmode }

// SetIgnoreMDCError suppresses the "decryption succeeded but plaintext is
// not integrity-protected" terminal error Decrypt otherwise returns when
// DECRYPTION_INFO reports neither MDC nor AEAD, and the plaintext blankout
// Decrypt otherwise applies on DECRYPTION_FAILED or when no DECRYPTION_OKAY
// arrives (spec §4.8/§4.9's ignore-mdc-error override).
func (c *Context) SetIgnoreMDCError(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ignoreMDCError = v
}
func (c *Context) IgnoreMDCError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignoreMDCError
}

func (c *Context) SetKeyListMode(m KeyListMode) { c.mu.Lock(); defer c.mu.Unlock(); c.keylistMode = m }
func (c *Context) KeyListMode() KeyListMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keylistMode
}

// SetIncludeCerts sets the number of CMS certificates to include when
// signing, or -1 to defer to the engine's own default.
func (c *Context) SetIncludeCerts(n int) { c.mu.Lock(); defer c.mu.Unlock(); c.includeCerts = n }
func (c *Context) IncludeCerts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.includeCerts
}

// AddSigner appends key to the signer list, taking a reference on it, per
// spec §4.2's "signers are used in the order they were added" invariant.
func (c *Context) AddSigner(key *Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key.Ref()
	c.signers = append(c.signers, key)
}

// ClearSigners releases every signer reference and empties the list.
func (c *Context) ClearSigners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.signers {
		k.Unref()
	}
	c.signers = nil
}

// SignerKeyIDs returns the current signer list's key IDs in add order, for
// handing to pkg/ops.Sign.
func (c *Context) SignerKeyIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.signers))
	for i, k := range c.signers {
		ids[i] = k.KeyID
	}
	return ids
}

// SetPassphraseCallback installs the passphrase provider every subsequent
// operation's inquiry handler consults; nil disables passphrase handling
// (GET_HIDDEN then fails the operation).
func (c *Context) SetPassphraseCallback(fn func(uidHint string, prevWasBad bool) (string, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passphraseFunc = fn
}

// SetProgressCallback installs the PROGRESS status-line observer.
func (c *Context) SetProgressCallback(fn func(what, typ string, cur, total int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progressFunc = fn
}

// SetLocale overrides the LC_CTYPE/LC_MESSAGES values passed to the engine
// for locale-dependent output (gpgsm DN rendering, passphrase prompts).
func (c *Context) SetLocale(ctype, messages string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localeCType = ctype
	c.localeMessages = messages
}

// Busy reports whether an operation is currently in flight on the Context.
// Cancellation goes through the context.Context passed to each operation;
// Busy exists for callers that hold a *Context across goroutines and need a
// synchronous "is anything in flight" check.
func (c *Context) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// run drives one operation's plan end to end, refusing concurrent use of
// the same Context (spec §4.9: a Context runs one operation at a time).
func (c *Context) run(ctx context.Context, argv []string, dataSlots []engine.DataSlot, needColon, needCommand bool, callbacks engine.Callbacks) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return gpgmeerr.New(gpgmeerr.CodeInvalidValue, gpgmeerr.SourceEngine, "gpgme: context already has an operation in flight")
	}
	c.busy = true
	binding := c.engine
	logger := c.Logger
	cmdFunc := c.CommandFunc
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.chain.Clear()
		c.mu.Unlock()
	}()

	fullArgv := argv
	if len(binding.ExtraArgs) > 0 {
		fullArgv = make([]string, 0, len(binding.ExtraArgs)+len(argv))
		fullArgv = append(fullArgv, binding.ExtraArgs...)
		fullArgv = append(fullArgv, argv...)
	}

	d := engine.New(engine.Config{
		Path:        binding.Path,
		Argv:        fullArgv,
		Env:         binding.Env,
		DataSlots:   dataSlots,
		NeedColon:   needColon,
		NeedCommand: needCommand,
		CommandFunc: cmdFunc,
		Callbacks:   callbacks,
		Logger:      logger,
	})
	return d.Run(ctx)
}

// composePassphraseFunc adapts the Context's passphraseFunc into the
// engine.Callbacks.Passphrase shape, which hands over the fully composed
// prompt string rather than the raw uid-hint/prevWasBad pair; the uid hint
// is re-extracted from the prompt's second line, and prevWasBad from its
// TRY_AGAIN/ENTER first line, since the engine package already builds the
// prompt once (spec §4.6), avoiding two copies of that logic.
func (c *Context) composePassphraseFunc() func(prompt string) (string, error) {
	c.mu.Lock()
	fn := c.passphraseFunc
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return func(prompt string) (string, error) {
		lines := strings.SplitN(prompt, "\n", 3)
		uidHint := ""
		if len(lines) > 1 {
			uidHint = lines[1]
		}
		return fn(uidHint, lines[0] == "TRY_AGAIN")
	}
}

func (c *Context) progressCallback() func(what, typ string, cur, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressFunc
}
