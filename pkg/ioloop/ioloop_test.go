package ioloop

import (
	"errors"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpgme-go/gogpgme/pkg/gpgdata"
)

// fakePipe lets tests script a sequence of Read/Write results, including
// EAGAIN and EPIPE, without a real OS pipe.
type fakePipe struct {
	mu      sync.Mutex
	reads   [][]byte
	readErr []error
	writes  [][]byte
	written [][]byte
	readAt  int
}

func (f *fakePipe) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readAt >= len(f.reads) {
		return 0, io.EOF
	}
	data, err := f.reads[f.readAt], f.readErr[f.readAt]
	f.readAt++
	n := copy(p, data)
	return n, err
}

func (f *fakePipe) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) > 0 {
		next := f.writes[0]
		f.writes = f.writes[1:]
		if next == nil {
			return 0, syscall.EPIPE
		}
	}
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakePipe) Close() error { return nil }

func TestSpawnReaderForwardsDataUntilEOF(t *testing.T) {
	p := &fakePipe{
		reads:   [][]byte{[]byte("hello "), []byte("world")},
		readErr: []error{nil, nil},
	}
	obj := gpgdata.NewMemory()
	m := New()
	tag := m.SpawnReader(p, obj, false)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-m.Results():
			if r.Tag == tag && r.EOF {
				require.NoError(t, r.Err)
				out := obj.Bytes()
				assert.Equal(t, "hello world", string(out))
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for EOF result")
		}
	}
}

func TestSpawnReaderTreatsEAGAINAsRetry(t *testing.T) {
	p := &fakePipe{
		reads:   [][]byte{nil, []byte("ok")},
		readErr: []error{syscall.EAGAIN, nil},
	}
	obj := gpgdata.NewMemory()
	m := New()
	tag := m.SpawnReader(p, obj, false)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-m.Results():
			if r.Tag == tag && r.EOF {
				assert.Equal(t, "ok", string(obj.Bytes()))
				return
			}
		case <-deadline:
			t.Fatal("timed out")
		}
	}
}

func TestSpawnWriterStopsCleanlyOnEPIPE(t *testing.T) {
	obj := gpgdata.NewMemoryFromBytes([]byte("payload"))
	p := &fakePipe{writes: [][]byte{nil}}
	m := New()
	tag := m.SpawnWriter(p, obj, false)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-m.Results():
			if r.Tag == tag && r.EOF {
				assert.NoError(t, r.Err)
				return
			}
		case <-deadline:
			t.Fatal("timed out")
		}
	}
}

func TestFreezeSuspendsDelivery(t *testing.T) {
	// Start frozen so there's no window between registration and Freeze
	// where the worker could race ahead and deliver before being held.
	obj := gpgdata.NewMemory()
	p := &fakePipe{}
	m := New()
	tag := m.SpawnWriter(p, obj, true)

	select {
	case <-m.Results():
		t.Fatal("frozen worker should not have delivered a result yet")
	case <-time.After(150 * time.Millisecond):
	}

	m.Freeze(tag, false)
	select {
	case r := <-m.Results():
		assert.Equal(t, tag, r.Tag)
		assert.True(t, r.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unfrozen delivery")
	}
}

func TestRemoveStopsWorker(t *testing.T) {
	p := &fakePipe{}
	obj := gpgdata.NewMemory()
	m := New()
	tag := m.SpawnReader(p, obj, false)
	require.Equal(t, 1, m.Count())
	m.Remove(tag)
	assert.Equal(t, 0, m.Count())
}

func TestIsAgainAndIsBrokenPipeClassifyWrappedErrors(t *testing.T) {
	assert.True(t, isAgain(syscall.EAGAIN))
	assert.False(t, isAgain(errors.New("wrap")))
	assert.True(t, isBrokenPipe(syscall.EPIPE))
}
