package gpgdata

import (
	"io"
	"os"
)

// File is an fd-backed Object. Seek support mirrors whatever the underlying
// *os.File supports (a regular file seeks; a pipe or socket fd does not,
// matching original_source/src/data-fd.c's "supports seek iff the kernel fd
// does").
type File struct {
	base
	f *os.File
}

// NewFile wraps an already-open file for use as a data object. The caller
// retains ownership; Release does not close f.
func NewFile(f *os.File) *File {
	return &File{base: newBase(), f: f}
}

func (d *File) Read(p []byte) (int, error) {
	if Blankout(d.serial) {
		return 0, io.EOF
	}
	return d.f.Read(p)
}

func (d *File) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

func (d *File) Seek(offset int64, whence int) (int64, error) {
	return d.f.Seek(offset, whence)
}

func (d *File) Release() {
	forget(d.serial)
}

// RawFD returns the underlying fd, used by the driver's rare splice path.
func (d *File) RawFD() uintptr { return d.f.Fd() }
