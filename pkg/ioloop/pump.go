package ioloop

import (
	"errors"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
)

// idleTick bounds how long a frozen or EAGAIN-stalled worker sleeps before
// rechecking, mirroring the 50ms select() timeout in the original I/O loop
// (spec §9, original_source/posix-io.c's _gpgme_io_select).
const idleTick = 50 * time.Millisecond

// Pipe is the minimal surface pump needs from a child-process fd. *os.File
// satisfies it directly; tests substitute a fake to drive EAGAIN/EPIPE
// without needing a real non-blocking pipe.
type Pipe interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

const pumpChunk = 4096

// isAgain reports whether err is the pipe equivalent of EAGAIN/EWOULDBLOCK:
// spec §4.7 says a pump that sees this must leave its pending count
// unchanged and wait for the fd to signal ready again, rather than treating
// it as a real error.
func isAgain(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// isBrokenPipe reports the EPIPE case spec §4.7 calls out separately: the
// peer closed its read end while we still had bytes queued to write.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}

// SpawnReader starts a worker that repeatedly reads obj.BufferSize()-sized
// slices from p and forwards them to obj (the linked gpgdata.Object),
// stopping at EOF, EPIPE, or any other error and closing p when it stops. It registers with m and returns the tag so
// the driver can Remove/Freeze it. startFrozen lets the caller (or a test)
// hold the worker off the fd from the moment it's registered, closing the
// window between registration and an explicit Freeze call.
//
// Grounded on the teacher's pkg/commands/streamer/out.go: a single goroutine
// reading from a pipe and forwarding chunks over a channel until EOF.
func (m *Mux) SpawnReader(p Pipe, obj gpgdata.Object, startFrozen bool) Tag {
	w := &worker{
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		frozen:   new(bool),
		frozenMu: new(sync.Mutex),
	}
	*w.frozen = startFrozen
	tag := m.register(w)

	go func() {
		defer close(w.stopped)
		defer p.Close()
		buf := make([]byte, obj.BufferSize())
		for {
			select {
			case <-w.stop:
				return
			default:
			}
			if w.isFrozen() {
				time.Sleep(idleTick)
				continue
			}
			n, err := p.Read(buf)
			if n > 0 {
				if _, werr := obj.Write(buf[:n]); werr != nil {
					m.send(Result{Tag: tag, Err: werr})
					return
				}
				m.send(Result{Tag: tag, N: n})
			}
			if err != nil {
				if isAgain(err) {
					time.Sleep(idleTick)
					continue
				}
				m.send(Result{Tag: tag, EOF: true, Err: errOrNilOnEOF(err)})
				return
			}
		}
	}()

	return tag
}

// SpawnWriter starts a worker that repeatedly reads from obj and writes to
// p, stopping once obj is exhausted or p reports EPIPE and closing p when
// it stops, so the child sees EOF. See SpawnReader for
// startFrozen's purpose.
func (m *Mux) SpawnWriter(p Pipe, obj gpgdata.Object, startFrozen bool) Tag {
	w := &worker{
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		frozen:   new(bool),
		frozenMu: new(sync.Mutex),
	}
	*w.frozen = startFrozen
	tag := m.register(w)

	go func() {
		defer close(w.stopped)
		defer p.Close()
		buf := make([]byte, obj.BufferSize())
		for {
			select {
			case <-w.stop:
				return
			default:
			}
			if w.isFrozen() {
				time.Sleep(idleTick)
				continue
			}
			n, rerr := obj.Read(buf)
			for pending := buf[:n]; len(pending) > 0; {
				wn, werr := p.Write(pending)
				pending = pending[wn:]
				if werr != nil {
					if isAgain(werr) {
						time.Sleep(idleTick)
						continue
					}
					if isBrokenPipe(werr) {
						m.send(Result{Tag: tag, EOF: true, Err: nil})
						return
					}
					m.send(Result{Tag: tag, Err: werr})
					return
				}
				m.send(Result{Tag: tag, N: wn})
			}
			if rerr != nil {
				m.send(Result{Tag: tag, EOF: true, Err: errOrNilOnEOF(rerr)})
				return
			}
		}
	}()

	return tag
}

func (w *worker) isFrozen() bool {
	w.frozenMu.Lock()
	defer w.frozenMu.Unlock()
	return *w.frozen
}

func (m *Mux) send(r Result) {
	m.results <- r
}

func errOrNilOnEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
