package gpgdata

import (
	"github.com/sasha-s/go-deadlock"
)

// registry is the process-wide serial->object table spec §3 describes: it
// lets the status parser poison the plaintext sink by serial number when an
// integrity failure is detected, without holding the object pointer itself.
// Guarded by a deadlock.RWMutex (teacher idiom, pkg/commands/pod.go) rather
// than sync.RWMutex so a lock-order bug between this and a Context's own lock
// is caught in development instead of hanging silently.
var registry = struct {
	deadlock.RWMutex
	blankout map[uint64]bool
	nextID   uint64
}{blankout: make(map[uint64]bool, 64)}

func nextSerial() uint64 {
	registry.Lock()
	defer registry.Unlock()
	registry.nextID++
	return registry.nextID
}

// SetBlankout sets or clears the blankout flag for the object with the given
// serial. Once set true, the object's Read implementations must return zero
// bytes for all subsequent reads (spec §3 invariant).
func SetBlankout(serial uint64, v bool) {
	registry.Lock()
	defer registry.Unlock()
	if v {
		registry.blankout[serial] = true
	} else {
		delete(registry.blankout, serial)
	}
}

// Blankout reports whether the object with the given serial has been
// poisoned.
func Blankout(serial uint64) bool {
	registry.RLock()
	defer registry.RUnlock()
	return registry.blankout[serial]
}

// forget removes a released object's serial from the registry.
func forget(serial uint64) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.blankout, serial)
}
