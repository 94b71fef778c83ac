package udp

import (
	"context"
	"net"
	"time"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
	"github.com/skyline-net/skyline/pkg/util"
	"github.com/skyline-net/skyline/pkg/wire/dataset"
	"github.com/skyline-net/skyline/pkg/wire/online"
)

// TickInterval is how often a Conn's tick task drains its send
// engine, retransmits overdue datagrams, and flushes acks.
const TickInterval = 50 * time.Millisecond

// Conn is one peer's UDP-side session: its reliability engines plus
// the network/tick goroutines serving it. Grounded on the teacher's
// per-Session Update() call driven by server.go's updateLoop ticker,
// generalized here into a dedicated goroutine pair per peer (network
// task + tick task) behind a single cancellation, per spec.md §4.7.
type Conn struct {
	Addr net.Addr

	send *SendEngine
	recv *RecvEngine

	socket   net.PacketConn
	incoming chan *dataset.Datagram
	delivery chan Delivery

	log     *logging.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Deliveries returns the channel the network task publishes fully
// assembled application payloads to. The Skyline packet dispatcher
// (internal/skyline) reads from this channel.
func (c *Conn) Deliveries() <-chan Delivery {
	return c.delivery
}

// NewConn constructs a Conn bound to addr, writing outgoing packets
// through socket. mtu is the maximum transmission unit negotiated
// with this peer during the handshake (spec.md §4.2's SendEngine
// state). The caller must call Run to start its background tasks and
// Close to stop them.
func NewConn(ctx context.Context, socket net.PacketConn, addr net.Addr, mtu uint16, log *logging.Logger, m *metrics.Metrics) *Conn {
	cctx, cancel := context.WithCancel(ctx)
	l := log.Named("udp_conn").With("addr", addr.String())
	return &Conn{
		Addr:     addr,
		send:     NewSendEngine(mtu, util.SystemClock{}, l, m),
		recv:     NewRecvEngine(util.SystemClock{}, l, m),
		socket:   socket,
		incoming: make(chan *dataset.Datagram, 64),
		delivery: make(chan Delivery, 64),
		log:      l,
		metrics:  m,
		ctx:      cctx,
		cancel:   cancel,
	}
}

// Close implements peer.Engines, stopping the Conn's background tasks.
func (c *Conn) Close() {
	c.cancel()
}

// Enqueue sends payload to this peer at the given priority and
// channel. High/Medium sends are buffered for the next tick; Low,
// Immediate, and oversized (split) payloads are transmitted
// synchronously before Enqueue returns, per spec.md §4.2's Insert
// contract.
func (c *Conn) Enqueue(payload []byte, priority SendPriority, channel uint16) error {
	datagrams, err := c.send.Insert(payload, priority, channel)
	if err != nil {
		return err
	}
	for _, dg := range datagrams {
		c.writeDatagram(dg)
	}
	return nil
}

// Push hands a Datagram received from the network to this
// connection's network task, which processes it asynchronously and
// publishes any fully assembled Deliveries on Deliveries(). It is
// non-blocking: if the incoming buffer is full the datagram is
// dropped and logged, matching UDP's own best-effort delivery.
func (c *Conn) Push(dg *dataset.Datagram) {
	select {
	case c.incoming <- dg:
	default:
		c.log.Warnw("incoming buffer full, dropping datagram", "seq", dg.Sequence)
	}
}

// HandleAck applies an incoming Acknowledgement to the send engine.
func (c *Conn) HandleAck(ack *online.Acknowledgement) []*dataset.Datagram {
	var retransmit []*dataset.Datagram
	switch ack.Variant {
	case online.AckVariantAck:
		for _, seq := range ack.Seqs {
			c.send.Ack(seq)
		}
	case online.AckVariantNack:
		for _, seq := range ack.Seqs {
			if dg, ok := c.send.Nack(seq); ok {
				retransmit = append(retransmit, dg)
			}
		}
	}
	return retransmit
}

// Run starts both of the Conn's background tasks — the network task
// draining incoming Datagrams into Deliveries, and the tick task
// flushing the send engine — and blocks until ctx is cancelled (via
// Close). Callers should invoke it in its own goroutine.
func (c *Conn) Run() {
	done := make(chan struct{})
	go func() {
		c.runNetwork()
		close(done)
	}()
	c.runTick()
	<-done
}

// runNetwork processes incoming Datagrams in receive order until the
// Conn is closed, publishing assembled payloads to Deliveries().
func (c *Conn) runNetwork() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case dg := <-c.incoming:
			for _, d := range c.recv.Insert(dg) {
				select {
				case c.delivery <- d:
				case <-c.ctx.Done():
					return
				}
			}
		}
	}
}

// runTick periodically drains the send engine, retransmits overdue
// datagrams, and ships pending acks until the Conn is closed.
func (c *Conn) runTick() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick drains the High then Medium buffers, wrapping each DataSet in
// its own fresh-sequence Datagram and sending it (tracking it for
// recovery since every buffered set is reliable), retransmits
// anything overdue, and flushes outstanding acks. Per spec.md §4.2,
// bundling multiple sets into one Datagram is reserved for a single
// split-insert batch — a normal tick never bundles unrelated sets
// together, since that would collapse their retransmit granularity
// onto one outer sequence.
func (c *Conn) tick() {
	sets := c.send.Drain()
	if len(sets) > 0 {
		seqs := c.send.NextDatagramSequences(len(sets))
		for i, ds := range sets {
			dg := dataset.NewDatagram(seqs[i])
			dg.Push(ds)
			c.writeDatagram(dg)
			c.send.TrackForRecovery(dg)
		}
	}

	for _, dg := range c.send.FlushDue() {
		c.writeDatagram(dg)
	}

	if acks := c.recv.FlushAcks(); len(acks) > 0 {
		c.writeAck(&online.Acknowledgement{Variant: online.AckVariantAck, Seqs: acks})
	}
	if missing := c.recv.Missing(); len(missing) > 0 {
		c.writeAck(&online.Acknowledgement{Variant: online.AckVariantNack, Seqs: missing})
	}
}

func (c *Conn) writeDatagram(dg *dataset.Datagram) {
	raw := online.Encode(&online.DatagramPacket{Datagram: dg})
	c.write(raw)
}

func (c *Conn) writeAck(ack *online.Acknowledgement) {
	raw := online.Encode(ack)
	c.write(raw)
}

func (c *Conn) write(raw []byte) {
	if _, err := c.socket.WriteTo(raw, c.Addr); err != nil {
		c.log.Warnw("write failed", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.BytesSent.Add(float64(len(raw)))
	}
}
