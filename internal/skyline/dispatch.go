package skyline

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/skyline-net/skyline/internal/logging"
	wirebinary "github.com/skyline-net/skyline/pkg/wire/binary"
	wirechannel "github.com/skyline-net/skyline/pkg/wire/channel"
	wireskyline "github.com/skyline-net/skyline/pkg/wire/skyline"
)

// Session is a peer's application-level login state, tracked
// alongside its transport-level peer.Peer.
type Session struct {
	PeerID      uuid.UUID
	Username    string
	LoggedIn    bool
	Permissions map[uint32]wirechannel.ChannelPermission
}

// NewSession returns a fresh, not-yet-logged-in Session for peerID.
func NewSession(peerID uuid.UUID) *Session {
	return &Session{PeerID: peerID, Permissions: make(map[uint32]wirechannel.ChannelPermission)}
}

// Sender is implemented by the transport connection (internal/udp.Conn
// or internal/tcp.Conn) carrying wire bytes to a single peer, letting
// Dispatcher stay transport-agnostic.
type Sender interface {
	SendBytes(raw []byte) error
}

// Authenticator validates login credentials. Implementations may back
// onto internal/config's static/database authorization kinds.
type Authenticator interface {
	Authenticate(username, token string) (bool, error)
}

// AllowAllAuthenticator accepts every login, used when
// config.AuthorizationConfig.Enabled is false.
type AllowAllAuthenticator struct{}

func (AllowAllAuthenticator) Authenticate(string, string) (bool, error) { return true, nil }

// Dispatcher decodes and routes SkylinePacket application messages:
// login, channel join/permission-update, and channel message
// fan-out. Grounded on the teacher's HandleDataPacket-style dispatch
// in source/protocol/raknet.go, generalized one layer up from the
// transport's DataSet payload to the application's SkylinePacket.
type Dispatcher struct {
	registry *Registry
	auth     Authenticator
	log      *logging.Logger

	senders map[uuid.UUID]Sender
}

// NewDispatcher returns a Dispatcher backed by registry and auth.
func NewDispatcher(registry *Registry, auth Authenticator, log *logging.Logger) *Dispatcher {
	if auth == nil {
		auth = AllowAllAuthenticator{}
	}
	return &Dispatcher{
		registry: registry,
		auth:     auth,
		log:      log.Named("dispatcher"),
		senders:  make(map[uuid.UUID]Sender),
	}
}

// RegisterSender associates peerID with the Sender used to reach it,
// so channel fan-out can reach every subscriber.
func (d *Dispatcher) RegisterSender(peerID uuid.UUID, s Sender) {
	d.senders[peerID] = s
}

// UnregisterSender drops peerID's Sender and removes it from every
// channel it had joined, on disconnect.
func (d *Dispatcher) UnregisterSender(peerID uuid.UUID) {
	delete(d.senders, peerID)
	d.registry.LeaveAll(peerID)
}

// HandlePayload decodes raw as a SkylinePacket and dispatches it for
// sess, writing any response through send.
func (d *Dispatcher) HandlePayload(sess *Session, raw []byte, send Sender) error {
	r := wirebinary.NewReader(raw)
	pkt, err := wireskyline.Decode(r)
	if err != nil {
		return fmt.Errorf("skyline: decode payload: %w", err)
	}

	switch p := pkt.(type) {
	case *wireskyline.CompressedMessage:
		return d.HandlePayload(sess, p.Inner, send)
	case *wireskyline.LoginPacket:
		return d.handleLogin(sess, p, send)
	case *wireskyline.Disconnect:
		d.UnregisterSender(sess.PeerID)
		return nil
	case *wireskyline.ChannelPacket:
		return d.handleChannelPacket(sess, p, send)
	default:
		return fmt.Errorf("skyline: unhandled packet type %T", p)
	}
}

func (d *Dispatcher) handleLogin(sess *Session, p *wireskyline.LoginPacket, send Sender) error {
	ok, err := d.auth.Authenticate(p.Username, p.Token)
	if err != nil {
		return fmt.Errorf("skyline: authenticate: %w", err)
	}
	sess.LoggedIn = ok
	sess.Username = p.Username

	reason := ""
	if !ok {
		reason = "invalid credentials"
	}
	raw, err := wireskyline.Encode(&wireskyline.LoginResponse{Accepted: ok, Reason: reason})
	if err != nil {
		return err
	}
	return send.SendBytes(raw)
}

func (d *Dispatcher) handleChannelPacket(sess *Session, p *wireskyline.ChannelPacket, send Sender) error {
	if !sess.LoggedIn {
		return fmt.Errorf("skyline: channel operation before login")
	}

	switch p.Op {
	case wireskyline.ChannelOpJoinRequest:
		return d.handleJoinRequest(sess, p, send)
	case wireskyline.ChannelOpMessage:
		return d.handleChannelMessage(sess, p)
	case wireskyline.ChannelOpPermissionUpdate:
		sess.Permissions[p.ChannelID] = p.Permissions
		return nil
	default:
		return fmt.Errorf("skyline: unhandled channel op %v", p.Op)
	}
}

func (d *Dispatcher) handleJoinRequest(sess *Session, p *wireskyline.ChannelPacket, send Sender) error {
	ch, ok := d.registry.Join(p.ChannelID, sess.PeerID)
	resp := &wireskyline.ChannelPacket{Op: wireskyline.ChannelOpJoinResponse, Accepted: ok}
	if ok {
		resp.Channel = ch
	}
	raw, err := wireskyline.Encode(resp)
	if err != nil {
		return err
	}
	return send.SendBytes(raw)
}

// handleChannelMessage fans p out to every subscriber of its channel.
// On a Broadcast channel the sender receives its own message too; on
// any other MessageType the sender is skipped. No other per-type
// routing is done.
func (d *Dispatcher) handleChannelMessage(sess *Session, p *wireskyline.ChannelPacket) error {
	ch, ok := d.registry.Get(p.ChannelID)
	if !ok {
		return fmt.Errorf("skyline: message to unknown channel %d", p.ChannelID)
	}
	if !HasPermission(sess.Permissions[p.ChannelID], wirechannel.PermissionPublish) {
		return fmt.Errorf("skyline: peer %s lacks publish permission on channel %d", sess.PeerID, p.ChannelID)
	}

	raw, err := wireskyline.Encode(p)
	if err != nil {
		return err
	}

	for _, memberID := range d.registry.Members(ch.ID) {
		if memberID == sess.PeerID && ch.MessageType != wirechannel.MessageTypeBroadcast {
			continue
		}
		if s, ok := d.senders[memberID]; ok {
			if err := s.SendBytes(raw); err != nil {
				d.log.Warnw("fan-out send failed", "peer", memberID, "error", err)
			}
		}
	}
	return nil
}
