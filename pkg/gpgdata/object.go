// Package gpgdata implements the data-object abstraction the engine-driver
// pumps bytes through: a polymorphic byte source/sink with four operations
// (read, write, seek, release) plus an optional raw-fd hint, grounded on
// original_source/src/data.h and data-mem.c/data-fd.c/data-stream.c/data-user.c.
package gpgdata

import (
	"errors"
	"runtime"
)

// Encoding hints what format the bytes carry. The engine-driver itself never
// interprets the bytes; this is passed through to argv construction by
// pkg/ops.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingBinary
	EncodingBase64
	EncodingArmor
	EncodingURL
	EncodingPEM
	EncodingMIME
)

const (
	// DefaultBufferSize is used when an Object's buffer size is unset (0) or
	// set below it.
	DefaultBufferSize = 512
	// MaxBufferSize caps an Object's buffer size, per spec §8 boundary
	// behavior ("100 MiB is capped at 1 MiB").
	MaxBufferSize = 1 << 20
)

// Object is the interface the engine-driver's pump (pkg/ioloop) consumes.
// Not every backing supports every operation; unsupported operations return
// ErrNotSupported.
type Object interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Release()

	// Serial is the process-wide identity used by the blankout registry.
	Serial() uint64
	// FileName is an optional hint surfaced to the engine as a filename
	// argument (e.g. plaintext output name).
	FileName() string
	SetFileName(string)
	// Encoding hints the wire format to the argv builder.
	Encoding() Encoding
	SetEncoding(Encoding)
	// SizeHint is an optional advance size hint; 0 means unknown.
	SizeHint() int64
	SetSizeHint(int64)
	// Sensitive marks the object for wipe-on-release.
	Sensitive() bool
	SetSensitive(bool)
	// BufferSize returns the effective per-read/write chunk size, already
	// clamped per the boundary rule above.
	BufferSize() int
	SetBufferSize(int)
}

// ErrNotSupported is returned by Seek/Write/Read when a backing does not
// implement the operation (e.g. Seek on a non-seekable stream).
var ErrNotSupported = errors.New("gpgdata: operation not supported")

// base holds the fields common to every Object implementation.
type base struct {
	serial    uint64
	fileName  string
	encoding  Encoding
	sizeHint  int64
	sensitive bool
	bufSize   int
}

func newBase() base {
	return base{serial: nextSerial()}
}

func (b *base) Serial() uint64           { return b.serial }
func (b *base) FileName() string         { return b.fileName }
func (b *base) SetFileName(s string)     { b.fileName = s }
func (b *base) Encoding() Encoding       { return b.encoding }
func (b *base) SetEncoding(e Encoding)   { b.encoding = e }
func (b *base) SizeHint() int64          { return b.sizeHint }
func (b *base) SetSizeHint(n int64)      { b.sizeHint = n }
func (b *base) Sensitive() bool          { return b.sensitive }
func (b *base) SetSensitive(v bool)      { b.sensitive = v }

func (b *base) BufferSize() int {
	if b.bufSize < DefaultBufferSize {
		return DefaultBufferSize
	}
	if b.bufSize > MaxBufferSize {
		return MaxBufferSize
	}
	return b.bufSize
}

func (b *base) SetBufferSize(n int) { b.bufSize = n }

// wipe overwrites buf with zeroes through a pattern the compiler cannot
// prove dead, for Sensitive objects on Release. runtime.KeepAlive anchors
// the write against being optimized away, mirroring the C implementation's
// use of a function pointer the optimizer can't see through.
func wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}
