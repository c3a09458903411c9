// Package gpgmeerr implements the flat error-code model the engine-driver
// reports to callers: a single Code enum plus a Source tag identifying which
// subsystem raised it. Errors are latched by the driver and never recovered
// at this layer; see pkg/engine for the latching rules.
package gpgmeerr

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Code is a flat error-code enum, mirroring the kinds GPGME surfaces to
// callers (spec §7).
type Code int

const (
	CodeNone Code = iota
	CodeInvalidValue
	CodeInvalidEngine
	CodeNoData
	CodeBadPassphrase
	CodeCanceled
	CodeDecryptionFailed
	CodeUnsupportedAlgorithm
	CodeWrongKeyUsage
	CodeNoSecKey
	CodeNoPubKey
	CodeBadSignature
	CodeCertRevoked
	CodeNoCRLKnown
	CodeCRLTooOld
	CodeNotTrusted
	CodeAmbiguousName
	CodeConflict
	CodeENOMEM
	CodeEIO
	CodePipeError
	CodeNotImplemented
	CodeGeneral
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeInvalidValue:
		return "invalid-value"
	case CodeInvalidEngine:
		return "invalid-engine"
	case CodeNoData:
		return "no-data"
	case CodeBadPassphrase:
		return "bad-passphrase"
	case CodeCanceled:
		return "canceled"
	case CodeDecryptionFailed:
		return "decryption-failed"
	case CodeUnsupportedAlgorithm:
		return "unsupported-algorithm"
	case CodeWrongKeyUsage:
		return "wrong-key-usage"
	case CodeNoSecKey:
		return "no-seckey"
	case CodeNoPubKey:
		return "no-pubkey"
	case CodeBadSignature:
		return "bad-signature"
	case CodeCertRevoked:
		return "cert-revoked"
	case CodeNoCRLKnown:
		return "no-crl-known"
	case CodeCRLTooOld:
		return "crl-too-old"
	case CodeNotTrusted:
		return "not-trusted"
	case CodeAmbiguousName:
		return "ambiguous-name"
	case CodeConflict:
		return "conflict"
	case CodeENOMEM:
		return "enomem"
	case CodeEIO:
		return "eio"
	case CodePipeError:
		return "pipe-error"
	case CodeNotImplemented:
		return "not-implemented"
	default:
		return "general"
	}
}

// Source identifies which subsystem produced an Error.
type Source string

const (
	SourceEngine Source = "engine"
	SourceStatus Source = "status"
	SourceColon  Source = "colon"
	SourcePump   Source = "pump"
	SourceProc   Source = "proc"
	SourceData   Source = "data"
	SourceUser   Source = "user"
)

// Error is the concrete error type returned across the library boundary.
// It carries an xerrors.Frame so %+v formatting shows where the error was
// latched, which matters here because the terminal error is usually set deep
// inside a status or pump goroutine, far from where the caller observes it.
type Error struct {
	Code   Code
	Source Source
	msg    string
	frame  xerrors.Frame
}

// New constructs an Error, capturing the caller's frame.
func New(code Code, source Source, format string, args ...any) *Error {
	return &Error{
		Code:   code,
		Source: source,
		msg:    fmt.Sprintf(format, args...),
		frame:  xerrors.Caller(1),
	}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Code, e.msg)
}

func (e *Error) FormatError(p xerrors.Printer) error {
	p.Printf("%s", e.Error())
	e.frame.Format(p)
	return nil
}

func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
