// Package peer implements the Peer entity and its lifecycle, per
// spec.md §3/§4.7: a per-remote-address record tracking connection
// state, the reliability engines, and the goroutines serving it.
package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyline-net/skyline/internal/logging"
)

// State enumerates a Peer's lifecycle per spec.md §4.7.
type State int

const (
	StateOffline State = iota
	StateConnecting
	StateConnected
	StateTimingOut
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTimingOut:
		return "timing_out"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerTimeout is how long a peer may go without a received packet
// before it is considered timed out, per spec.md §3.
const PeerTimeout = 60 * time.Second

// Engines is implemented by the transport connection a Peer owns
// (a *udp.Conn, or the server's TCP adapter). Defined here so that
// peer does not depend on a transport package; Peer only needs to
// call back into its engines.
type Engines interface {
	Close()
}

// Peer is one remote endpoint's session state: identity, address,
// lifecycle, and the reliability engines serving it. Grounded on the
// teacher's source/server/player.go Player record (id/address/
// connected-flag/last-seen), generalized from a game player to a
// transport-level session, with game-state fields (position/health/
// skin) dropped as having no Skyline analogue.
type Peer struct {
	ID      uuid.UUID
	Address net.Addr

	mu         sync.Mutex
	state      State
	lastRecvAt time.Time
	engines    Engines
	cancel     context.CancelFunc
	log        *logging.Logger
}

// New constructs a Peer in StateConnecting, bound to the given
// address. cancel is invoked by Close to stop the peer's background
// tasks (network/tick loops started by the caller).
func New(addr net.Addr, log *logging.Logger, cancel context.CancelFunc) *Peer {
	return &Peer{
		ID:         uuid.New(),
		Address:    addr,
		state:      StateConnecting,
		lastRecvAt: time.Now(),
		cancel:     cancel,
		log:        log.With("peer_id", "pending", "addr", addr.String()),
	}
}

// SetEngines attaches the reliability engines once constructed. Split
// from New because the engines often need a reference back to the
// Peer (for e.g. ack scheduling), creating a construction order the
// teacher's Player struct never had to deal with.
func (p *Peer) SetEngines(e Engines) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines = e
}

// Engines returns the peer's attached reliability engines, or nil if
// SetEngines has not been called yet.
func (p *Peer) Engines() Engines {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engines
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState transitions the peer to s.
func (p *Peer) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// MarkReceived records that a packet was just received from this
// peer and promotes it out of StateTimingOut if it had drifted there.
func (p *Peer) MarkReceived(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRecvAt = now
	if p.state == StateTimingOut {
		p.state = StateConnected
	}
}

// IdleFor reports how long it has been since the last received packet.
func (p *Peer) IdleFor(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastRecvAt)
}

// CheckTimeout transitions the peer to StateTimingOut or
// StateDisconnected based on elapsed idle time, returning the
// resulting state. Mirrors the teacher's sessionCleanupLoop sweep,
// generalized to a single per-peer check that Manager.Sweep calls for
// each peer on a shared ticker.
func (p *Peer) CheckTimeout(now time.Time) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := now.Sub(p.lastRecvAt)
	switch {
	case idle >= PeerTimeout:
		p.state = StateDisconnected
	case idle >= PeerTimeout/2:
		if p.state == StateConnected {
			p.state = StateTimingOut
		}
	}
	return p.state
}

// Close cancels the peer's background tasks and releases its engines.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.engines != nil {
		p.engines.Close()
	}
	p.state = StateDisconnected
}
