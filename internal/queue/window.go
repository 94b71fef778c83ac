// Package queue implements the four reliability data structures
// shared by the UDP send and receive engines: a sliding acknowledgment
// Window, a RecoveryQueue of unacked sent datagrams, a SplitQueue for
// fragment reassembly, and an OrdQueue for per-channel ordering.
package queue

import (
	"sync"

	"github.com/skyline-net/skyline/pkg/util"
)

// WindowSize is the maximum span of sequence numbers a Window tracks
// at once, per spec.md §3.
const WindowSize = 2048

// WindowPurgeAge is how long an entry may sit in a Window before
// Purge removes it, per spec.md §3.
const WindowPurgeAge = 60_000 // milliseconds

// Window is a wraparound-aware sliding window over received sequence
// numbers, recording the receive time of each so stale entries can be
// purged. It is grounded on original_source's Window (window.rs),
// generalized to Go with explicit locking in place of Rust's owned
// mutation.
type Window struct {
	mu    sync.Mutex
	lo    uint32
	hi    uint32
	recv  map[uint32]util.EpochMillis
	clock util.Clock
}

// NewWindow returns an empty Window starting at sequence 0.
func NewWindow(clock util.Clock) *Window {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &Window{
		hi:    WindowSize,
		recv:  make(map[uint32]util.EpochMillis),
		clock: clock,
	}
}

// Insert records seq as received at the current time, rejecting it if
// it falls outside [lo, lo+WindowSize). Only when seq is exactly lo
// does the window slide forward (via adjust), per spec.md §3/§9: the
// window never jumps ahead for an arbitrary future sequence, only
// advances as the low end is actually filled in. It reports whether
// seq was newly inserted (false if seq was out of range or already
// present, i.e. a duplicate).
func (w *Window) Insert(seq uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq-w.lo >= WindowSize {
		return false
	}
	if _, ok := w.recv[seq]; ok {
		return false
	}
	w.recv[seq] = w.clock.NowMillis()
	if seq == w.lo {
		w.adjust()
	}
	return true
}

// adjust slides [lo, hi) forward past every contiguously received
// sequence starting at lo, then restores hi to lo+WindowSize. Must be
// called with mu held, and only once seq==lo has just been received,
// per original_source's Window::adjust.
func (w *Window) adjust() {
	for {
		if _, ok := w.recv[w.lo]; !ok {
			break
		}
		delete(w.recv, w.lo)
		w.lo++
		w.hi++
	}
	w.hi = w.lo + WindowSize
}

// Missing returns every sequence number in [lo, hi) not yet recorded,
// in ascending order — the set a receiver should nack.
func (w *Window) Missing() []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var missing []uint32
	for seq := w.lo; seq < w.hi; seq++ {
		if _, ok := w.recv[seq]; !ok {
			missing = append(missing, seq)
		}
	}
	return missing
}

// Bounds returns the window's current [lo, hi) span.
func (w *Window) Bounds() (lo, hi uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lo, w.hi
}

// Purge removes every entry received strictly more than
// WindowPurgeAge milliseconds ago. original_source's purge_old
// predicate (retain only entries stamped after now+threshold) is
// inverted from what spec.md §9 specifies; this implementation keeps only entries whose
// age is within the purge window, i.e. drops entries older than it.
func (w *Window) Purge() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.NowMillis()
	purged := 0
	for seq, at := range w.recv {
		if uint64(now)-uint64(at) > WindowPurgeAge {
			delete(w.recv, seq)
			purged++
		}
	}
	return purged
}

// Len reports how many sequence numbers are currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recv)
}
