package peer

import (
	"net"
	"sync"
	"time"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
)

// Manager is the address-keyed peer table shared by the UDP listener
// and TCP acceptor. A single mutex guards it, matching the teacher's
// Server.Players map[int]*Player under a single lock rather than a
// sync.Map — lookups are always followed by a state check, so a plain
// mutex-guarded map avoids the two-step race a lock-free map would
// introduce between "found" and "still valid".
type Manager struct {
	mu    sync.Mutex
	peers map[string]*Peer
	log   *logging.Logger
	m     *metrics.Metrics
}

// NewManager returns an empty peer Manager.
func NewManager(log *logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		peers: make(map[string]*Peer),
		log:   log.Named("peer_manager"),
		m:     m,
	}
}

// Get returns the peer registered for addr, if any.
func (mgr *Manager) Get(addr net.Addr) (*Peer, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	p, ok := mgr.peers[addr.String()]
	return p, ok
}

// Add registers p under its address, replacing any existing entry.
func (mgr *Manager) Add(p *Peer) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.peers[p.Address.String()] = p
	if mgr.m != nil {
		mgr.m.ConnectedPeers.Set(float64(len(mgr.peers)))
	}
}

// Remove closes and unregisters the peer at addr, if present.
func (mgr *Manager) Remove(addr net.Addr) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	key := addr.String()
	if p, ok := mgr.peers[key]; ok {
		p.Close()
		delete(mgr.peers, key)
		if mgr.m != nil {
			mgr.m.ConnectedPeers.Set(float64(len(mgr.peers)))
		}
	}
}

// Len returns the number of currently registered peers.
func (mgr *Manager) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.peers)
}

// Sweep checks every peer's idle time against PeerTimeout, removing
// any that have fully timed out. Grounded on the teacher's
// sessionCleanupLoop ticker, which performs the equivalent
// whole-table sweep on a fixed interval.
func (mgr *Manager) Sweep(now time.Time) (removed int) {
	mgr.mu.Lock()
	var toRemove []string
	for key, p := range mgr.peers {
		if p.CheckTimeout(now) == StateDisconnected {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		mgr.peers[key].Close()
		delete(mgr.peers, key)
	}
	if mgr.m != nil && len(toRemove) > 0 {
		mgr.m.ConnectedPeers.Set(float64(len(mgr.peers)))
	}
	mgr.mu.Unlock()
	return len(toRemove)
}

// Range calls fn for every registered peer. fn must not call back
// into Manager methods that take mgr.mu (Add/Remove/Sweep).
func (mgr *Manager) Range(fn func(*Peer)) {
	mgr.mu.Lock()
	snapshot := make([]*Peer, 0, len(mgr.peers))
	for _, p := range mgr.peers {
		snapshot = append(snapshot, p)
	}
	mgr.mu.Unlock()
	for _, p := range snapshot {
		fn(p)
	}
}
