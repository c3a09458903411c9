// Package ops implements the per-operation argv builders spec.md §1 calls
// an external collaborator: each operation assembles argv fragments and
// data-object slots, then hands both to pkg/engine. The core driver stays
// ignorant of what any particular operation's flags mean; ops is where that
// knowledge lives.
//
// Grounded on original_source/trunk/gpgme/{encrypt,decrypt,sign,verify,
// keylist,import,export,genkey,delete}.c for the concrete flag shapes
// (SPEC_FULL.md §6), and on the teacher's pkg/commands command-builder
// functions (e.g. RemoveContainer, RestartContainer) for the "one function
// per verb, returning an argv-ready plan" shape.
package ops

import (
	"github.com/gpgme-go/gogpgme/pkg/engine"
	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
	"github.com/gpgme-go/gogpgme/pkg/proc"
)

// KeyListMode controls which key stores a keylist operation searches.
type KeyListMode int

const (
	KeyListLocal KeyListMode = iota
	KeyListSecretOnly
)

// SignMode selects the sign variant's output shape.
type SignMode int

const (
	SignNormal SignMode = iota
	SignDetach
	SignClear
)

// Plan is the argv + data-slot result of one builder call, ready to hand to
// engine.Config (the caller fills in Path/Env/Callbacks/Logger).
type Plan struct {
	Argv        []string
	DataSlots   []engine.DataSlot
	NeedColon   bool
	NeedCommand bool
}

// extraFD appends a "-&%d"-style placeholder to argv and returns both the
// updated argv and the index the placeholder landed at, for building a
// DataSlot with Target: proc.TargetExtra.
func extraFD(argv []string, flag string) ([]string, int) {
	argv = append(argv, flag)
	return argv, len(argv) - 1
}

// KeyList builds the argv for a keylist/trustlist operation.
func KeyList(mode KeyListMode, patterns []string) Plan {
	argv := []string{"--with-colons", "--fixed-list-mode", "--with-fingerprint"}
	if mode == KeyListSecretOnly {
		argv = append(argv, "--list-secret-keys")
	} else {
		argv = append(argv, "--list-keys")
	}
	argv = append(argv, "--")
	argv = append(argv, patterns...)
	return Plan{Argv: argv, NeedColon: true}
}

// Decrypt builds the argv for a decrypt operation: ciphertext comes in on
// one extra fd, plaintext goes out on another, per
// SPEC_FULL.md §6's "-o -&<out-fd> -&<in-fd>" shape.
func Decrypt(ciphertext, plaintext gpgdata.Object) Plan {
	argv := []string{"--decrypt", "-o"}
	argv, outIdx := extraFD(argv, "-&%d")
	argv, inIdx := extraFD(argv, "-&%d")
	return Plan{
		Argv: argv,
		DataSlots: []engine.DataSlot{
			{Object: plaintext, Direction: engine.DirInbound, Target: proc.TargetExtra, ArgvIndex: outIdx},
			{Object: ciphertext, Direction: engine.DirOutbound, Target: proc.TargetExtra, ArgvIndex: inIdx},
		},
	}
}

// Sign builds the argv for a sign operation. signerKeyIDs must already be in
// the order the caller added them (spec §4.2's argv-ordering invariant).
func Sign(mode SignMode, armor, textmode bool, signerKeyIDs []string, plaintext, signature gpgdata.Object) Plan {
	var argv []string
	switch mode {
	case SignDetach:
		argv = append(argv, "--detach-sign")
	case SignClear:
		argv = append(argv, "--clearsign")
	default:
		argv = append(argv, "--sign")
	}
	if armor {
		argv = append(argv, "--armor")
	}
	if textmode {
		argv = append(argv, "--textmode")
	}
	for _, kid := range signerKeyIDs {
		argv = append(argv, "-u", kid)
	}
	return Plan{
		Argv: argv,
		DataSlots: []engine.DataSlot{
			{Object: plaintext, Direction: engine.DirOutbound, Target: proc.TargetStdin},
			{Object: signature, Direction: engine.DirInbound, Target: proc.TargetStdout},
		},
	}
}

// Verify builds the argv for a verify operation. sig is nil for an
// opaque/normal signature where the signed text itself carries the
// signature; otherwise it is a detached signature verified against
// signedText, each passed on its own extra fd per SPEC_FULL.md §6.
func Verify(sig, signedText, plaintextOut gpgdata.Object) Plan {
	if sig != nil {
		argv := []string{"--verify"}
		argv, sigIdx := extraFD(argv, "-&%d")
		argv, dataIdx := extraFD(argv, "-&%d")
		return Plan{
			Argv: argv,
			DataSlots: []engine.DataSlot{
				{Object: sig, Direction: engine.DirOutbound, Target: proc.TargetExtra, ArgvIndex: sigIdx},
				{Object: signedText, Direction: engine.DirOutbound, Target: proc.TargetExtra, ArgvIndex: dataIdx},
			},
		}
	}
	slots := []engine.DataSlot{
		{Object: signedText, Direction: engine.DirOutbound, Target: proc.TargetStdin},
	}
	if plaintextOut != nil {
		slots = append(slots, engine.DataSlot{Object: plaintextOut, Direction: engine.DirInbound, Target: proc.TargetStdout})
	}
	return Plan{Argv: []string{"--verify"}, DataSlots: slots}
}

// Encrypt builds the argv for an encrypt operation.
func Encrypt(armor, alwaysTrust bool, recipientKeyIDs []string, plaintext, ciphertext gpgdata.Object) Plan {
	argv := []string{"--encrypt"}
	if armor {
		argv = append(argv, "--armor")
	}
	if alwaysTrust {
		argv = append(argv, "--always-trust")
	}
	for _, kid := range recipientKeyIDs {
		argv = append(argv, "-r", kid)
	}
	return Plan{
		Argv: argv,
		DataSlots: []engine.DataSlot{
			{Object: plaintext, Direction: engine.DirOutbound, Target: proc.TargetStdin},
			{Object: ciphertext, Direction: engine.DirInbound, Target: proc.TargetStdout},
		},
	}
}

// Import builds the argv for an import operation.
func Import(keyData gpgdata.Object) Plan {
	return Plan{
		Argv:      []string{"--import"},
		DataSlots: []engine.DataSlot{{Object: keyData, Direction: engine.DirOutbound, Target: proc.TargetStdin}},
	}
}

// Export builds the argv for an export operation.
func Export(armor bool, patterns []string, out gpgdata.Object) Plan {
	argv := []string{"--export"}
	if armor {
		argv = append(argv, "--armor")
	}
	argv = append(argv, "--")
	argv = append(argv, patterns...)
	return Plan{
		Argv:      argv,
		DataSlots: []engine.DataSlot{{Object: out, Direction: engine.DirInbound, Target: proc.TargetStdout}},
	}
}

// GenKey builds the argv for a batch key-generation operation; params
// carries the parameter block on the child's stdin, and a command-input fd
// is opened as well (interactive mode, no linked data object).
func GenKey(params gpgdata.Object) Plan {
	return Plan{
		Argv:        []string{"--gen-key", "--batch"},
		DataSlots:   []engine.DataSlot{{Object: params, Direction: engine.DirOutbound, Target: proc.TargetStdin}},
		NeedCommand: true,
	}
}

// Delete builds the argv for a key-deletion operation.
func Delete(secretToo bool, fingerprint string) Plan {
	flag := "--delete-keys"
	if secretToo {
		flag = "--delete-secret-keys"
	}
	return Plan{Argv: []string{flag, "--", fingerprint}}
}
