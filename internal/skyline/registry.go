// Package skyline implements the application-level Skyline packet
// layer: login, channel join/permission/message handling, and the
// channel registry that tracks subscriptions across peers. It is the
// consumer of both internal/udp's Deliveries and internal/tcp's
// Incoming channels.
package skyline

import (
	"sync"

	"github.com/google/uuid"

	wirechannel "github.com/skyline-net/skyline/pkg/wire/channel"
)

// Registry tracks every Channel a peer may join, plus per-channel
// subscriber sets. Grounded on original_source's
// net/skyline/channel.rs Channel/ChannelTopic model, generalized from
// a single-process Rust HashMap into a Go mutex-guarded map, matching
// the locking idiom internal/peer.Manager already establishes.
type Registry struct {
	mu       sync.RWMutex
	channels map[uint32]*wirechannel.Channel
	members  map[uint32]map[uuid.UUID]struct{}
}

// NewRegistry returns an empty channel Registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[uint32]*wirechannel.Channel),
		members:  make(map[uint32]map[uuid.UUID]struct{}),
	}
}

// Declare registers ch, creating it if it does not already exist.
// Calling Declare on an existing channel id is a no-op — channel
// shape is fixed at creation in this implementation, matching
// spec.md's silence on runtime schema changes.
func (r *Registry) Declare(ch *wirechannel.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.ID]; exists {
		return
	}
	r.channels[ch.ID] = ch
	r.members[ch.ID] = make(map[uuid.UUID]struct{})
}

// Get returns the channel registered under id, if any.
func (r *Registry) Get(id uint32) (*wirechannel.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Join adds peerID to channel id's subscriber set, returning the
// channel and whether the id was known. Subscribers count on the
// Channel itself is kept in sync so a later DecodeChannel/Encode
// round trip reflects the true membership size.
func (r *Registry) Join(id uint32, peerID uuid.UUID) (*wirechannel.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil, false
	}
	if _, already := r.members[id][peerID]; !already {
		r.members[id][peerID] = struct{}{}
		ch.Subscribers = uint32(len(r.members[id]))
	}
	return ch, true
}

// Leave removes peerID from channel id's subscriber set.
func (r *Registry) Leave(id uint32, peerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.members[id]; ok {
		delete(members, peerID)
		if ch, ok := r.channels[id]; ok {
			ch.Subscribers = uint32(len(members))
		}
	}
}

// LeaveAll removes peerID from every channel, used on disconnect.
func (r *Registry) LeaveAll(peerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, members := range r.members {
		if _, ok := members[peerID]; ok {
			delete(members, peerID)
			if ch, ok := r.channels[id]; ok {
				ch.Subscribers = uint32(len(members))
			}
		}
	}
}

// Members returns the set of peer ids currently subscribed to channel id.
func (r *Registry) Members(id uint32) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.members[id]
	out := make([]uuid.UUID, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

// HasPermission checks whether a peer's granted permission mask
// allows the required capability on topic-less channel operations.
func HasPermission(granted, required wirechannel.ChannelPermission) bool {
	return granted.Allows(required)
}
