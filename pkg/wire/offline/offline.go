// Package offline implements the pre-handshake OfflinePackets union:
// the small set of messages a peer may exchange before a session
// exists, per spec.md §4.5/§6.
package offline

import (
	"errors"
	"fmt"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

// SkylineHeader is the fixed magic string every offline packet is
// prefixed with, matching original_source's "SKYLINE_1.0.0".
const SkylineHeader = "SKYLINE_1.0.0"

// ErrBadHeader is returned when a packet's magic header doesn't match
// SkylineHeader.
var ErrBadHeader = errors.New("offline: bad magic header")

// Offline packet ids (u8 discriminant), per spec.md §6.
const (
	IDDisconnect      uint8 = 1
	IDPing            uint8 = 2
	IDPong            uint8 = 3
	IDConnectRequest  uint8 = 4
	IDConnectResponse uint8 = 5
)

// DisconnectReason enumerates why a peer was disconnected before a
// session was established. Bit-exact with spec.md §6, so a Disconnect
// sent by this implementation is interpretable by any other
// conforming Skyline peer.
type DisconnectReason uint8

const (
	DisconnectReasonInvalidToken DisconnectReason = iota
	DisconnectReasonInvalidName
	DisconnectReasonInvalidIdentifiers
	DisconnectReasonInvalidProtocol
)

// Packet is the common interface implemented by every offline message.
type Packet interface {
	ID() uint8
	Encode(w *binary.Writer)
}

// Disconnect notifies a peer that no session will be established.
type Disconnect struct {
	Reason DisconnectReason
}

func (p *Disconnect) ID() uint8 { return IDDisconnect }
func (p *Disconnect) Encode(w *binary.Writer) {
	w.U8(uint8(p.Reason))
}

// Ping is an unconnected liveness probe; Pong echoes PingTime.
type Ping struct {
	PingTime uint64
}

func (p *Ping) ID() uint8 { return IDPing }
func (p *Ping) Encode(w *binary.Writer) {
	w.U64(p.PingTime)
}

// Pong answers a Ping with the same timestamp it carried.
type Pong struct {
	PingTime uint64
}

func (p *Pong) ID() uint8 { return IDPong }
func (p *Pong) Encode(w *binary.Writer) {
	w.U64(p.PingTime)
}

// ConnectRequest begins the handshake, proposing a protocol version
// and MTU.
type ConnectRequest struct {
	ProtocolVersion uint32
	MTU             uint16
}

func (p *ConnectRequest) ID() uint8 { return IDConnectRequest }
func (p *ConnectRequest) Encode(w *binary.Writer) {
	w.U32(p.ProtocolVersion)
	w.U16(p.MTU)
}

// ConnectResponse accepts (Accepted=true) or rejects a ConnectRequest,
// echoing the negotiated MTU when accepted.
type ConnectResponse struct {
	Accepted bool
	MTU      uint16
}

func (p *ConnectResponse) ID() uint8 { return IDConnectResponse }
func (p *ConnectResponse) Encode(w *binary.Writer) {
	var b uint8
	if p.Accepted {
		b = 1
	}
	w.U8(b)
	w.U16(p.MTU)
}

// EncodeWithHeader writes SkylineHeader, the packet id, then the
// packet body — the full on-wire shape of an offline packet.
func EncodeWithHeader(p Packet) []byte {
	w := binary.NewWriter()
	w.Fixed([]byte(SkylineHeader))
	w.U8(p.ID())
	p.Encode(w)
	return w.Bytes()
}

// DecodeWithHeader validates the magic header and dispatches on the
// packet id, returning one of *Disconnect, *Ping, *Pong,
// *ConnectRequest, or *ConnectResponse.
func DecodeWithHeader(r *binary.Reader) (Packet, error) {
	magic, err := r.Fixed(len(SkylineHeader))
	if err != nil {
		return nil, fmt.Errorf("offline: read header: %w", err)
	}
	if string(magic) != SkylineHeader {
		return nil, ErrBadHeader
	}
	return Decode(r)
}

// Decode reads a packet id and body, without the SkylineHeader
// prefix. Use DecodeWithHeader for the full on-wire framing.
func Decode(r *binary.Reader) (Packet, error) {
	id, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("offline: read id: %w", err)
	}
	switch id {
	case IDDisconnect:
		reason, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("offline: decode disconnect: %w", err)
		}
		return &Disconnect{Reason: DisconnectReason(reason)}, nil
	case IDPing:
		t, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("offline: decode ping: %w", err)
		}
		return &Ping{PingTime: t}, nil
	case IDPong:
		t, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("offline: decode pong: %w", err)
		}
		return &Pong{PingTime: t}, nil
	case IDConnectRequest:
		ver, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("offline: decode connect_request.version: %w", err)
		}
		mtu, err := r.U16()
		if err != nil {
			return nil, fmt.Errorf("offline: decode connect_request.mtu: %w", err)
		}
		return &ConnectRequest{ProtocolVersion: ver, MTU: mtu}, nil
	case IDConnectResponse:
		accepted, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("offline: decode connect_response.accepted: %w", err)
		}
		mtu, err := r.U16()
		if err != nil {
			return nil, fmt.Errorf("offline: decode connect_response.mtu: %w", err)
		}
		return &ConnectResponse{Accepted: accepted != 0, MTU: mtu}, nil
	default:
		return nil, fmt.Errorf("offline: unknown packet id %d", id)
	}
}
