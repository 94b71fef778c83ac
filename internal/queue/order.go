package queue

import "sync"

// MaxOrderChannels is the ordering-channel count named by the
// protocol, per spec.md §3. OrdQueue does not enforce it: it accepts
// any u16 channel id.
const MaxOrderChannels = 16

// orderedItem pairs a sequence with its payload. OrdQueue does not use
// it; Insert returns bare payloads.
type orderedItem struct {
	sequence uint32
	payload  []byte
}

// ordChannel buffers out-of-order arrivals for a single ordering
// channel, releasing them once the next expected sequence arrives.
type ordChannel struct {
	next     uint32
	buffered map[uint32][]byte
}

// OrdQueue enforces per-channel delivery order, keyed by the full
// OrderInfo channel id (spec.md §3/§6: "Keyed by OrderInfo.id (u16)").
// Grounded on the teacher's Session.ChannelOrderIndex map, generalized
// from a single running index per channel into a full reorder buffer,
// since Skyline's OrderInfo (unlike RakNet's bare channel index)
// allows packets to arrive out of sequence within a channel.
type OrdQueue struct {
	mu       sync.Mutex
	channels map[uint16]*ordChannel
}

// NewOrdQueue returns an OrdQueue with no channels allocated yet;
// channels are created lazily on first use, keyed by the full u16
// channel id so distinct ids never alias into the same buffer.
func NewOrdQueue() *OrdQueue {
	return &OrdQueue{channels: make(map[uint16]*ordChannel)}
}

// Insert buffers payload under the given channel/sequence and returns
// every payload now ready for in-order delivery, i.e. the contiguous
// run starting at that channel's next expected sequence.
func (q *OrdQueue) Insert(channel uint16, sequence uint32, payload []byte) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.channels[channel]
	if !ok {
		ch = &ordChannel{buffered: make(map[uint32][]byte)}
		q.channels[channel] = ch
	}
	ch.buffered[sequence] = payload

	var ready [][]byte
	for {
		p, ok := ch.buffered[ch.next]
		if !ok {
			break
		}
		ready = append(ready, p)
		delete(ch.buffered, ch.next)
		ch.next++
	}
	return ready, nil
}

// Pending reports how many out-of-order payloads are buffered for the
// given channel, awaiting the gap to close.
func (q *OrdQueue) Pending(channel uint16) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.channels[channel]
	if !ok {
		return 0
	}
	return len(ch.buffered)
}
