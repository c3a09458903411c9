package gpgdata

import "io"

// Callback wraps caller-supplied read/write/seek/release functions, matching
// original_source/src/data-user.c: "missing callbacks report not-supported."
type Callback struct {
	base
	ReadFunc    func(p []byte) (int, error)
	WriteFunc   func(p []byte) (int, error)
	SeekFunc    func(offset int64, whence int) (int64, error)
	ReleaseFunc func()
}

// NewCallback builds a Callback-backed Object; any of the four function
// fields may be left nil.
func NewCallback() *Callback {
	return &Callback{base: newBase()}
}

func (c *Callback) Read(p []byte) (int, error) {
	if Blankout(c.serial) {
		return 0, io.EOF
	}
	if c.ReadFunc == nil {
		return 0, ErrNotSupported
	}
	return c.ReadFunc(p)
}

func (c *Callback) Write(p []byte) (int, error) {
	if c.WriteFunc == nil {
		return 0, ErrNotSupported
	}
	return c.WriteFunc(p)
}

func (c *Callback) Seek(offset int64, whence int) (int64, error) {
	if c.SeekFunc == nil {
		return 0, ErrNotSupported
	}
	return c.SeekFunc(offset, whence)
}

func (c *Callback) Release() {
	if c.ReleaseFunc != nil {
		c.ReleaseFunc()
	}
	forget(c.serial)
}
