package udp

import (
	"context"
	"fmt"
	"net"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
	"github.com/skyline-net/skyline/pkg/wire/binary"
	"github.com/skyline-net/skyline/pkg/wire/offline"
	"github.com/skyline-net/skyline/pkg/wire/online"
)

// ProtocolVersion is the Skyline wire protocol version this server
// speaks, per spec.md §3.
const ProtocolVersion = 1

// ReadBufferSize is the largest single UDP datagram the listener will
// accept, comfortably above MaxSplitSize plus header overhead.
const ReadBufferSize = 2048

// NewConnFunc constructs and starts tracking a Conn for a newly
// connected peer, at the MTU negotiated by ConnectRequest/
// ConnectResponse. The listener calls this once that negotiation
// succeeds.
type NewConnFunc func(addr net.Addr, mtu uint16) *Conn

// GetConnFunc looks up an already-established Conn by address.
type GetConnFunc func(addr net.Addr) (*Conn, bool)

// Listener owns the bound UDP socket and dispatches every inbound
// packet to either the offline handshake handler or an established
// peer's Conn. Grounded on the teacher's server.go listen() loop,
// generalized from a single flat dispatch table into an offline/
// online split per spec.md §4.6.
type Listener struct {
	socket  net.PacketConn
	log     *logging.Logger
	metrics *metrics.Metrics

	getConn GetConnFunc
	newConn NewConnFunc
}

// NewListener binds a UDP socket on addr (e.g. ":24833").
func NewListener(addr string, log *logging.Logger, m *metrics.Metrics, getConn GetConnFunc, newConn NewConnFunc) (*Listener, error) {
	socket, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", addr, err)
	}
	return &Listener{
		socket:  socket,
		log:     log.Named("udp_listener"),
		metrics: m,
		getConn: getConn,
		newConn: newConn,
	}, nil
}

// LocalAddr returns the socket's bound local address.
func (l *Listener) LocalAddr() net.Addr {
	return l.socket.LocalAddr()
}

// Socket returns the listener's bound socket, so a NewConnFunc can
// construct per-peer Conns that write back through the same socket.
func (l *Listener) Socket() net.PacketConn {
	return l.socket
}

// Close closes the underlying socket, unblocking Serve.
func (l *Listener) Close() error {
	return l.socket.Close()
}

// Serve reads datagrams until ctx is cancelled or the socket closes.
func (l *Listener) Serve(ctx context.Context) error {
	buf := make([]byte, ReadBufferSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, addr, err := l.socket.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				l.log.Warnw("read failed", "error", err)
				continue
			}
		}
		if l.metrics != nil {
			l.metrics.BytesReceived.Add(float64(n))
		}
		l.dispatch(addr, append([]byte(nil), buf[:n]...))
	}
}

// dispatch routes one received packet to the offline handshake
// handler (if it carries the SkylineHeader magic) or to an
// established peer's Conn otherwise.
func (l *Listener) dispatch(addr net.Addr, raw []byte) {
	if len(raw) >= len(offline.SkylineHeader) && string(raw[:len(offline.SkylineHeader)]) == offline.SkylineHeader {
		l.handleOffline(addr, raw)
		return
	}

	conn, ok := l.getConn(addr)
	if !ok {
		l.log.Warnw("online packet from unknown peer, dropping", "addr", addr.String())
		return
	}
	l.handleOnline(conn, raw)
}

func (l *Listener) handleOffline(addr net.Addr, raw []byte) {
	r := binary.NewReader(raw)
	pkt, err := offline.DecodeWithHeader(r)
	if err != nil {
		l.log.Warnw("malformed offline packet", "addr", addr.String(), "error", err)
		return
	}

	switch p := pkt.(type) {
	case *offline.Ping:
		l.reply(addr, offline.EncodeWithHeader(&offline.Pong{PingTime: p.PingTime}))
	case *offline.ConnectRequest:
		if p.ProtocolVersion != ProtocolVersion {
			l.reply(addr, offline.EncodeWithHeader(&offline.ConnectResponse{Accepted: false}))
			return
		}
		if _, exists := l.getConn(addr); !exists {
			l.newConn(addr, p.MTU)
		}
		l.reply(addr, offline.EncodeWithHeader(&offline.ConnectResponse{Accepted: true, MTU: p.MTU}))
	case *offline.Disconnect:
		l.log.Infow("peer disconnected pre-handshake", "addr", addr.String(), "reason", p.Reason)
	default:
		l.log.Warnw("unexpected offline packet type", "addr", addr.String())
	}
}

func (l *Listener) handleOnline(conn *Conn, raw []byte) {
	r := binary.NewReader(raw)
	pkt, err := online.Decode(r)
	if err != nil {
		l.log.Warnw("malformed online packet", "addr", conn.Addr.String(), "error", err)
		return
	}

	switch p := pkt.(type) {
	case *online.DatagramPacket:
		for _, derr := range p.DecodeErrors {
			l.log.Warnw("malformed dataset in datagram, skipping", "addr", conn.Addr.String(), "error", derr)
		}
		conn.Push(p.Datagram)
	case *online.Acknowledgement:
		for _, dg := range conn.HandleAck(p) {
			conn.writeDatagram(dg)
		}
	case *online.Ping:
		raw := online.Encode(&online.Pong{PingTime: p.PingTime})
		conn.write(raw)
	case *online.Pong:
		// Nothing is recorded for a Pong; the peer's last-received
		// time is not updated here.
	}
}

func (l *Listener) reply(addr net.Addr, raw []byte) {
	if _, err := l.socket.WriteTo(raw, addr); err != nil {
		l.log.Warnw("offline reply failed", "addr", addr.String(), "error", err)
	}
}
