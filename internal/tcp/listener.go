package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
)

// AcceptHandler is invoked once per accepted TCP connection, after a
// Conn has been constructed but before Run is started, so the caller
// can register it (e.g. in a peer.Manager) before traffic flows.
type AcceptHandler func(*Conn)

// Listener accepts TCP connections and spins up a Conn + its
// background tasks for each one. Grounded on the teacher's
// server.go accept loop, generalized from a single flat handler into
// a handshake-aware Conn per spec.md §4.5.
type Listener struct {
	netListener net.Listener
	log         *logging.Logger
	metrics     *metrics.Metrics
	onAccept    AcceptHandler
}

// NewListener binds a TCP listener on addr (e.g. ":24833").
func NewListener(addr string, log *logging.Logger, m *metrics.Metrics, onAccept AcceptHandler) (*Listener, error) {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return &Listener{
		netListener: nl,
		log:         log.Named("tcp_listener"),
		metrics:     m,
		onAccept:    onAccept,
	}, nil
}

// Addr returns the listener's bound local address.
func (l *Listener) Addr() net.Addr {
	return l.netListener.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.netListener.Close()
}

// Serve accepts connections until ctx is cancelled or the listener
// closes, starting each accepted Conn's background tasks in its own
// goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.netListener.Close()
	}()

	for {
		netConn, err := l.netListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tcp: accept: %w", err)
		}
		conn := NewConn(ctx, netConn, l.log, l.metrics)
		l.onAccept(conn)
		go conn.Run()
	}
}
