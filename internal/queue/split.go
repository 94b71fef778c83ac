package queue

import (
	"errors"
	"sync"

	"github.com/skyline-net/skyline/pkg/wire/dataset"
)

// MaxSplitSize is the largest payload this module will split into,
// per spec.md §3.
const MaxSplitSize = 1024

// Split errors, grounded on original_source's SplitQueue/SendQueue
// error enums.
var (
	ErrSplitExists          = errors.New("queue: split id already pending")
	ErrNotSplit             = errors.New("queue: dataset is not marked split")
	ErrSplitNotRequired     = errors.New("queue: payload does not require splitting")
	ErrInvalidSplitIndex    = errors.New("queue: split index out of bounds")
	ErrMissingSplitIndices  = errors.New("queue: split reassembly missing indices")
	ErrSplitIndexOutOfRange = errors.New("queue: split index exceeds declared total")
)

// pendingSplit accumulates fragments of one split payload as they
// arrive, in no particular order.
type pendingSplit struct {
	total uint32
	sets  map[uint32]*dataset.DataSet
}

// SplitQueue tracks in-flight split reassembly, keyed by split id.
// One SplitQueue instance serves both directions: Split divides an
// oversized payload into fragments for sending, Insert/Join
// accumulate and reassemble fragments for receiving. Grounded on
// original_source's server/src/protocol/dataset/queue/split.rs.
type SplitQueue struct {
	mu      sync.Mutex
	pending map[uint16]*pendingSplit
	nextID  uint16
}

// NewSplitQueue returns an empty SplitQueue.
func NewSplitQueue() *SplitQueue {
	return &SplitQueue{pending: make(map[uint16]*pendingSplit)}
}

// Split divides payload into maxChunk-byte fragments (or MaxSplitSize
// if maxChunk is <= 0), returning one DataSet per fragment, each
// carrying the same Split.ID and Total, with the Split bit set
// alongside whatever other flags carry. The caller is responsible for
// assigning Seq/ReliableSeq/Order to each returned fragment.
func (q *SplitQueue) Split(payload []byte, baseFlags dataset.Flags, maxChunk int) ([]*dataset.DataSet, error) {
	if maxChunk <= 0 {
		maxChunk = MaxSplitSize
	}
	if len(payload) <= maxChunk {
		return nil, ErrSplitNotRequired
	}
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.mu.Unlock()

	total := uint32((len(payload) + maxChunk - 1) / maxChunk)
	sets := make([]*dataset.DataSet, 0, total)
	for i := uint32(0); i < total; i++ {
		start := int(i) * maxChunk
		end := start + maxChunk
		if end > len(payload) {
			end = len(payload)
		}
		sets = append(sets, &dataset.DataSet{
			Flags:   baseFlags.With(dataset.FlagSplit),
			Split:   dataset.SplitInfo{ID: id, Total: total, Index: i},
			Payload: payload[start:end],
		})
	}
	return sets, nil
}

// Insert records one received fragment of a split payload. It
// returns the fully joined payload (and true) once every fragment
// from 0..Total has arrived; otherwise it returns (nil, false).
func (q *SplitQueue) Insert(ds *dataset.DataSet) ([]byte, bool, error) {
	if !ds.Flags.IsSplit() {
		return nil, false, ErrNotSplit
	}
	if ds.Split.Index >= ds.Split.Total {
		return nil, false, ErrSplitIndexOutOfRange
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[ds.Split.ID]
	if !ok {
		p = &pendingSplit{total: ds.Split.Total, sets: make(map[uint32]*dataset.DataSet)}
		q.pending[ds.Split.ID] = p
	}
	if _, exists := p.sets[ds.Split.Index]; exists {
		return nil, false, ErrSplitExists
	}
	p.sets[ds.Split.Index] = ds

	if uint32(len(p.sets)) < p.total {
		return nil, false, nil
	}

	payload, err := join(p)
	if err != nil {
		return nil, false, err
	}
	delete(q.pending, ds.Split.ID)
	return payload, true, nil
}

// join concatenates every fragment in index order. Must be called
// with mu held.
func join(p *pendingSplit) ([]byte, error) {
	var out []byte
	for i := uint32(0); i < p.total; i++ {
		ds, ok := p.sets[i]
		if !ok {
			return nil, ErrMissingSplitIndices
		}
		out = append(out, ds.Payload...)
	}
	return out, nil
}

// Abandon discards a pending split by id, e.g. after a timeout.
func (q *SplitQueue) Abandon(id uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

// Len reports how many split ids are currently awaiting reassembly.
func (q *SplitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
