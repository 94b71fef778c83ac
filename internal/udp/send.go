// Package udp implements the UDP transport: priority send/receive
// reliability engines, the bound listener, and per-peer connection
// tasks, per spec.md §4.2/§4.3/§4.6/§4.7.
package udp

import (
	"fmt"
	"sync"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
	"github.com/skyline-net/skyline/internal/queue"
	"github.com/skyline-net/skyline/pkg/util"
	"github.com/skyline-net/skyline/pkg/wire/dataset"
)

// MaxProtoOverhead bounds how much header space a DataSet's framing
// may consume, per spec.md §3. A payload is split only when it exceeds
// mtu+MaxProtoOverhead, and each chunk then carries up to mtu payload
// bytes, so a chunk plus its header can exceed the MTU.
const MaxProtoOverhead = 57

// SendPriority orders how urgently and reliably a payload is sent,
// mirroring original_source's SendPriority (net/udp/queue/send.rs).
type SendPriority int

const (
	// PriorityLow is unreliable, sent immediately, and not retried if
	// the write fails.
	PriorityLow SendPriority = iota
	// PriorityMedium is reliable and buffered for the next tick.
	PriorityMedium
	// PriorityHigh is reliable and buffered ahead of Medium.
	PriorityHigh
	// PriorityImmediate bypasses buffering entirely and is sent
	// synchronously, unreliably.
	PriorityImmediate
)

// bufferedPriorities are the only priorities SendEngine buffers for
// the tick task to drain; Low and Immediate are handed back to the
// caller for synchronous transmission instead.
var bufferedPriorities = [...]SendPriority{PriorityHigh, PriorityMedium}

// ordChannelState tracks the running order sequence/index a channel's
// split batches advance by, per spec.md §4.2 ("channel's ord_seq/
// ord_idx advance by one after the whole batch", not per fragment).
type ordChannelState struct {
	seq uint32
	idx uint32
}

// SendEngine assembles application payloads into DataSets/Datagrams
// per spec.md §4.2. High/Medium sends are buffered for the tick task
// to drain, one Datagram per DataSet; Low, Immediate, and split
// batches are returned to the caller to transmit synchronously.
// Grounded on original_source's SendQueue (net/udp/queue/send.rs),
// generalized so the engine never touches the socket itself — Conn
// owns that, since only Conn writes to the shared listener socket.
type SendEngine struct {
	mu  sync.Mutex
	mtu uint16

	buffers map[SendPriority][]*dataset.DataSet

	seqGen util.SequenceGenerator
	relGen util.SequenceGenerator

	splitq   *queue.SplitQueue
	recovery *queue.RecoveryQueue
	ordChans map[uint16]*ordChannelState

	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewSendEngine returns a SendEngine that splits payloads too large
// for mtu, the peer's negotiated maximum transmission unit (from the
// UDP handshake's ConnectRequest/ConnectResponse exchange).
func NewSendEngine(mtu uint16, clock util.Clock, log *logging.Logger, m *metrics.Metrics) *SendEngine {
	return &SendEngine{
		mtu:      mtu,
		buffers:  make(map[SendPriority][]*dataset.DataSet),
		splitq:   queue.NewSplitQueue(),
		recovery: queue.NewRecoveryQueue(clock),
		ordChans: make(map[uint16]*ordChannelState),
		log:      log.Named("send_engine"),
		metrics:  m,
	}
}

// Insert assembles payload for sending on channel at priority, per the
// Insert contract in spec.md §4.2:
//
//   - Payloads larger than mtu+MaxProtoOverhead are always split,
//     regardless of the requested priority.
//   - Low: an unreliable DataSet, returned for immediate synchronous
//     send.
//   - High/Medium: a reliable DataSet, buffered for the tick task.
//   - Immediate: a single unreliable DataSet, returned for immediate
//     synchronous send, bypassing the buffers entirely.
//   - Split: every chunk carries {Split, Reliable, Ordered}, all
//     bundled into one Datagram under one sequence, tracked in the
//     recovery queue, and returned for immediate synchronous send.
//
// It returns any Datagrams the caller must transmit right now; nil
// means the send was buffered for the next tick instead.
func (e *SendEngine) Insert(payload []byte, priority SendPriority, channel uint16) ([]*dataset.Datagram, error) {
	oversized := len(payload) > int(e.mtu)+MaxProtoOverhead
	if oversized {
		return e.insertSplit(payload, channel)
	}

	switch priority {
	case PriorityLow:
		return e.sendNow(&dataset.DataSet{
			Flags:   dataset.Flags(0).With(dataset.FlagUnreliable),
			Payload: payload,
		}), nil
	case PriorityImmediate:
		return e.sendNow(&dataset.DataSet{Payload: payload}), nil
	case PriorityHigh, PriorityMedium:
		ds := &dataset.DataSet{
			Flags:   dataset.Flags(0).With(dataset.FlagReliable),
			Payload: payload,
		}
		e.mu.Lock()
		ds.ReliableSeq = e.relGen.Next()
		e.buffers[priority] = append(e.buffers[priority], ds)
		e.mu.Unlock()
		return nil, nil
	default:
		return nil, fmt.Errorf("udp: unknown send priority %d", priority)
	}
}

// sendNow wraps ds, freshly sequenced, in its own single-set Datagram
// for synchronous transmission.
func (e *SendEngine) sendNow(ds *dataset.DataSet) []*dataset.Datagram {
	e.mu.Lock()
	ds.Seq = e.seqGen.Next()
	e.mu.Unlock()
	dg := dataset.NewDatagram(ds.Seq)
	dg.Push(ds)
	return []*dataset.Datagram{dg}
}

// insertSplit divides payload into mtu-sized chunks, marks each
// {Split, Reliable, Ordered}, bundles them into one Datagram under one
// fresh sequence, registers that Datagram for recovery, and returns it
// for immediate transmission. The channel's ord_seq/ord_idx advance by
// one for the whole batch, not per chunk, per spec.md §4.2.
func (e *SendEngine) insertSplit(payload []byte, channel uint16) ([]*dataset.Datagram, error) {
	maxChunk := int(e.mtu)
	sets, err := e.splitq.Split(payload, dataset.Flags(0), maxChunk)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	state, ok := e.ordChans[channel]
	if !ok {
		state = &ordChannelState{}
		e.ordChans[channel] = state
	}
	ordSeq, ordIdx := state.seq, state.idx
	state.seq++
	state.idx++

	dg := dataset.NewDatagram(e.seqGen.Next())
	for _, ds := range sets {
		ds.Flags = ds.Flags.With(dataset.FlagSplit | dataset.FlagReliable | dataset.FlagOrdered)
		ds.Seq = e.seqGen.Next()
		ds.ReliableSeq = e.relGen.Next()
		ds.Order = dataset.OrderInfo{ID: channel, Index: ordIdx, Sequence: ordSeq}
		dg.Push(ds)
	}
	e.mu.Unlock()

	e.recovery.Insert(dg)
	return []*dataset.Datagram{dg}, nil
}

// Drain removes and returns every DataSet buffered at High priority,
// followed by every DataSet buffered at Medium priority, clearing both
// buffers. Per spec.md §4.2's tick contract, the caller wraps each
// returned DataSet in its own fresh-sequence Datagram — Drain does not
// bundle them, since each is an independent reliable send.
func (e *SendEngine) Drain() []*dataset.DataSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*dataset.DataSet
	for _, p := range bufferedPriorities {
		out = append(out, e.buffers[p]...)
		e.buffers[p] = nil
	}
	return out
}

// NextDatagramSequences returns n fresh outer Datagram sequences, one
// per DataSet the tick task is about to wrap individually.
func (e *SendEngine) NextDatagramSequences(n int) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seqs := make([]uint32, n)
	for i := range seqs {
		seqs[i] = e.seqGen.Next()
	}
	return seqs
}

// TrackForRecovery registers dg as sent, so it becomes eligible for
// retransmission via FlushDue until Ack removes it.
func (e *SendEngine) TrackForRecovery(dg *dataset.Datagram) {
	e.recovery.Insert(dg)
}

// Ack removes seq from the recovery queue, acknowledging delivery.
func (e *SendEngine) Ack(seq uint32) {
	e.recovery.Ack(seq)
	if e.metrics != nil {
		e.metrics.AcksReceived.Inc()
	}
}

// Nack forces immediate retransmission eligibility for seq, returning
// the datagram to resend if still tracked.
func (e *SendEngine) Nack(seq uint32) (*dataset.Datagram, bool) {
	if e.metrics != nil {
		e.metrics.NacksReceived.Inc()
	}
	return e.recovery.Nack(seq)
}

// FlushDue returns every datagram overdue for retransmission per
// queue.RecoveryRetransmitThreshold.
func (e *SendEngine) FlushDue() []*dataset.Datagram {
	due := e.recovery.FlushOld()
	if e.metrics != nil && len(due) > 0 {
		e.metrics.Retransmits.Add(float64(len(due)))
	}
	return due
}

// RecoveryDepth reports how many datagrams are pending acknowledgement.
func (e *SendEngine) RecoveryDepth() int {
	return e.recovery.Len()
}
