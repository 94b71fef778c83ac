package queue

import (
	"sync"

	"github.com/skyline-net/skyline/pkg/util"
	"github.com/skyline-net/skyline/pkg/wire/dataset"
)

// RecoveryRetransmitThreshold is how long an unacked datagram may sit
// in the RecoveryQueue before FlushOld considers it due for
// retransmission, per spec.md §3.
const RecoveryRetransmitThreshold = 1000 // milliseconds

// recoveryEntry pairs a sent datagram with the time it was sent (or
// last retransmitted).
type recoveryEntry struct {
	sentAt   util.EpochMillis
	datagram *dataset.Datagram
}

// RecoveryQueue holds sent-but-unacknowledged datagrams, keyed by
// their outer sequence number, so they can be retransmitted after
// RecoveryRetransmitThreshold or dropped once acked. Grounded on
// original_source's RecoveryQueue (net/udp/queue/recovery.rs).
type RecoveryQueue struct {
	mu      sync.Mutex
	entries map[uint32]*recoveryEntry
	clock   util.Clock
}

// NewRecoveryQueue returns an empty RecoveryQueue.
func NewRecoveryQueue(clock util.Clock) *RecoveryQueue {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &RecoveryQueue{entries: make(map[uint32]*recoveryEntry), clock: clock}
}

// Insert records dg as sent at the current time.
func (q *RecoveryQueue) Insert(dg *dataset.Datagram) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[dg.Sequence] = &recoveryEntry{sentAt: q.clock.NowMillis(), datagram: dg}
}

// Ack removes seq from the queue, acknowledging successful delivery.
func (q *RecoveryQueue) Ack(seq uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, seq)
}

// Get returns the datagram recorded under seq, if any.
func (q *RecoveryQueue) Get(seq uint32) (*dataset.Datagram, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[seq]
	if !ok {
		return nil, false
	}
	return e.datagram, true
}

// FlushOld returns every datagram that has sat unacknowledged for
// at least RecoveryRetransmitThreshold, resetting their sentAt so
// repeated calls don't immediately re-flush the same entries.
func (q *RecoveryQueue) FlushOld() []*dataset.Datagram {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.NowMillis()
	var due []*dataset.Datagram
	for _, e := range q.entries {
		if uint64(now)-uint64(e.sentAt) >= RecoveryRetransmitThreshold {
			due = append(due, e.datagram)
			e.sentAt = now
		}
	}
	return due
}

// Len reports how many unacknowledged datagrams are pending.
func (q *RecoveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Nack explicitly marks seq as due for immediate retransmission by
// resetting its sentAt to zero, returning the datagram if found.
func (q *RecoveryQueue) Nack(seq uint32) (*dataset.Datagram, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[seq]
	if !ok {
		return nil, false
	}
	e.sentAt = 0
	return e.datagram, true
}
