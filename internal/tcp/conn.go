// Package tcp implements the TCP-mode transport: framing,
// the connect/hello handshake, periodic heartbeats, and independent
// TCP-side payload splitting, per spec.md §4.5.
package tcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
	"github.com/skyline-net/skyline/pkg/wire/binary"
	"github.com/skyline-net/skyline/pkg/wire/offline"
	wiretcp "github.com/skyline-net/skyline/pkg/wire/tcp"
)

// ProtocolVersion is the Skyline wire protocol version a TCP-mode
// Conn requires of an incoming Connect, per spec.md §4.5.
const ProtocolVersion = 1

// HandshakeState enumerates a TCP Conn's handshake progress, per
// spec.md §4.5.
type HandshakeState int

const (
	StateAwaitingConnect HandshakeState = iota
	StateEstablished
	StateClosing
)

// HeartbeatInterval is how often an established Conn emits a
// heartbeat, per spec.md §3.
const HeartbeatInterval = 10 * time.Second

// SplitThreshold is the payload size above which a TCP Payload is
// sent as a sequence of SplitPacket messages instead, per spec.md §3.
const SplitThreshold = 852

// SplitChunkSize bounds each SplitPacket fragment's chunk size, per
// spec.md §3.
const SplitChunkSize = 952

// SplitSenderTimeout is how long a partially received split is kept
// before EvictExpiredSplits drops it. The sending side keeps no copy
// of fragments it has sent, and SplitOk is not tracked.
const SplitSenderTimeout = 10 * time.Second

// Conn is one peer's TCP-mode session: framing over a net.Conn, its
// handshake state, and independent split reassembly. Grounded on the
// teacher's per-connection goroutine from server.go, and on
// original_source/server/src/net/tcp/conn.rs's close-notifier/
// mpsc-channel shape, generalized to a context + buffered channel
// idiom.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer

	log     *logging.Logger
	metrics *metrics.Metrics

	state        HandshakeState
	sessionToken uuid.UUID

	splits map[uint16]*pendingSplit

	ctx    context.Context
	cancel context.CancelFunc

	outgoing chan wiretcp.Message
	incoming chan wiretcp.Message
}

type pendingSplit struct {
	total    uint32
	chunks   map[uint32][]byte
	deadline time.Time
}

// NewConn wraps netConn for Skyline TCP-mode framing.
func NewConn(ctx context.Context, netConn net.Conn, log *logging.Logger, m *metrics.Metrics) *Conn {
	cctx, cancel := context.WithCancel(ctx)
	return &Conn{
		netConn:  netConn,
		reader:   bufio.NewReader(netConn),
		writer:   bufio.NewWriter(netConn),
		log:      log.Named("tcp_conn").With("addr", netConn.RemoteAddr().String()),
		metrics:  m,
		state:    StateAwaitingConnect,
		splits:   make(map[uint16]*pendingSplit),
		ctx:      cctx,
		cancel:   cancel,
		outgoing: make(chan wiretcp.Message, 32),
		incoming: make(chan wiretcp.Message, 32),
	}
}

// State returns the Conn's current handshake state.
func (c *Conn) State() HandshakeState {
	return c.state
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Done returns a channel closed once the Conn's background tasks have
// been cancelled, letting callers pumping Incoming() stop cleanly
// instead of blocking on a channel this Conn will never close.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close cancels the Conn's background tasks and closes the socket.
func (c *Conn) Close() {
	c.cancel()
	_ = c.netConn.Close()
}

// Send queues msg for writing by the write pump.
func (c *Conn) Send(msg wiretcp.Message) {
	select {
	case c.outgoing <- msg:
	case <-c.ctx.Done():
	}
}

// SendPayload sends body as a single Payload message, or as a series
// of SplitPacket fragments if it exceeds SplitThreshold, per
// spec.md §4.5 — TCP splitting is independent of the UDP split queue.
func (c *Conn) SendPayload(body []byte) {
	if len(body) <= SplitThreshold {
		c.Send(&wiretcp.Payload{Body: body})
		return
	}

	id := uint16(time.Now().UnixNano())
	total := uint32((len(body) + SplitChunkSize - 1) / SplitChunkSize)
	for i := uint32(0); i < total; i++ {
		start := int(i) * SplitChunkSize
		end := start + SplitChunkSize
		if end > len(body) {
			end = len(body)
		}
		c.Send(&wiretcp.SplitPacket{SplitID: id, Index: i, Total: total, Chunk: body[start:end]})
	}
}

// Incoming returns the channel of fully-resolved incoming messages —
// SplitPacket sequences are reassembled internally and surfaced here
// as a single synthetic Payload once complete.
func (c *Conn) Incoming() <-chan wiretcp.Message {
	return c.incoming
}

// Run starts the read pump, write pump, and heartbeat task, blocking
// until ctx is cancelled or the connection errors.
func (c *Conn) Run() {
	done := make(chan struct{}, 2)
	go func() { c.readLoop(); done <- struct{}{} }()
	go func() { c.writeLoop(); done <- struct{}{} }()
	c.heartbeatLoop()
	<-done
	<-done
}

func (c *Conn) readLoop() {
	for {
		if c.ctx.Err() != nil {
			return
		}
		msg, err := readFrame(c.reader)
		if err != nil {
			c.log.Warnw("frame read failed, closing", "error", err)
			c.Close()
			return
		}
		c.handleMessage(msg)
	}
}

// readFrame reads one length-delimited Frame off br and decodes it.
func readFrame(br *bufio.Reader) (wiretcp.Message, error) {
	var header [2]byte
	if _, err := readFull(br, header[:]); err != nil {
		return nil, err
	}
	lenReader := binary.NewReader(header[:])
	frameID, _ := lenReader.U16()
	if frameID != wiretcp.FrameID {
		return nil, fmt.Errorf("tcp: unexpected frame id %d", frameID)
	}

	length, err := readVarU32(br)
	if err != nil {
		return nil, err
	}
	body := make([]byte, length)
	if _, err := readFull(br, body); err != nil {
		return nil, err
	}

	full := append(append([]byte{}, header[:]...), encodeVarU32(length)...)
	full = append(full, body...)
	fr := binary.NewReader(full)
	return wiretcp.DecodeFrame(fr)
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := br.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readVarU32 reads a LEB128 varint directly off br, mirroring
// pkg/wire/binary's VarU32 but operating on a stream reader instead
// of an in-memory buffer.
func readVarU32(br *bufio.Reader) (uint32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, binary.ErrVarintTooLong
}

func encodeVarU32(v uint32) []byte {
	w := binary.NewWriter()
	w.VarU32(v)
	return w.Bytes()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outgoing:
			raw := wiretcp.EncodeFrame(msg)
			if _, err := c.writer.Write(raw); err != nil {
				c.log.Warnw("frame write failed, closing", "error", err)
				c.Close()
				return
			}
			if err := c.writer.Flush(); err != nil {
				c.log.Warnw("flush failed, closing", "error", err)
				c.Close()
				return
			}
			if c.metrics != nil {
				c.metrics.BytesSent.Add(float64(len(raw)))
			}
			if _, ok := msg.(*wiretcp.Disconnect); ok {
				// We only ever queue a Disconnect when closing this side
				// of the handshake ourselves; close once it's flushed so
				// the peer is guaranteed to see it first.
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.state == StateEstablished {
				c.Send(&wiretcp.HeartbeatAck{Epoch: uint64(time.Now().UnixMilli())})
				if c.metrics != nil {
					c.metrics.TCPHeartbeats.Inc()
				}
			}
		}
	}
}

// handleMessage advances the handshake state machine and reassembles
// TCP splits, publishing resolved messages to Incoming().
func (c *Conn) handleMessage(msg wiretcp.Message) {
	switch m := msg.(type) {
	case *wiretcp.Connect:
		if c.state != StateAwaitingConnect {
			return
		}
		if m.ProtocolVersion != ProtocolVersion {
			c.state = StateClosing
			c.Send(&wiretcp.Disconnect{Reason: uint8(offline.DisconnectReasonInvalidProtocol)})
			return
		}
		c.sessionToken = uuid.New()
		c.Send(&wiretcp.Hello{SessionToken: c.sessionToken[:]})
		c.state = StateEstablished
	case *wiretcp.Disconnect:
		c.state = StateClosing
		c.Close()
	case *wiretcp.SplitPacket:
		c.handleSplitPacket(m)
	default:
		c.incoming <- msg
	}
}

func (c *Conn) handleSplitPacket(m *wiretcp.SplitPacket) {
	p, ok := c.splits[m.SplitID]
	if !ok {
		p = &pendingSplit{total: m.Total, chunks: make(map[uint32][]byte), deadline: time.Now().Add(SplitSenderTimeout)}
		c.splits[m.SplitID] = p
	}
	p.chunks[m.Index] = m.Chunk

	if uint32(len(p.chunks)) < p.total {
		return
	}

	var joined []byte
	for i := uint32(0); i < p.total; i++ {
		joined = append(joined, p.chunks[i]...)
	}
	delete(c.splits, m.SplitID)
	c.Send(&wiretcp.SplitOk{SplitID: m.SplitID})
	c.incoming <- &wiretcp.Payload{Body: joined}
}

// EvictExpiredSplits drops any pending split reassembly whose sender
// timeout has elapsed, per spec.md §3's 10s TCP split eviction.
func (c *Conn) EvictExpiredSplits(now time.Time) int {
	evicted := 0
	for id, p := range c.splits {
		if now.After(p.deadline) {
			delete(c.splits, id)
			evicted++
		}
	}
	return evicted
}
