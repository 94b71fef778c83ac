// Package skyline implements the application-level SkylinePacket
// layer carried as payload inside DataSets/TCP Payload messages: login,
// disconnect, compressed-message wrapping, and channel operations.
// Per spec.md §4.1, SkylinePacket's discriminant is little-endian, the
// second of the two exceptions to the big-endian wire format.
package skyline

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/skyline-net/skyline/pkg/wire/binary"
	"github.com/skyline-net/skyline/pkg/wire/channel"
	"github.com/skyline-net/skyline/pkg/wire/value"
)

// SkylinePacket ids (u16-LE discriminant).
const (
	IDCompressedMessage uint16 = 0
	IDDisconnect        uint16 = 1
	IDLoginPacket       uint16 = 2
	IDLoginResponse     uint16 = 3
	IDChannelPacket     uint16 = 4
)

// Packet is implemented by every top-level Skyline application packet.
type Packet interface {
	ID() uint16
	Encode(w *binary.Writer) error
}

// CompressedMessage wraps an arbitrary inner byte payload compressed
// with DEFLATE, used when the uncompressed payload would otherwise
// exceed the transport's practical MTU.
type CompressedMessage struct {
	Inner []byte
}

func (m *CompressedMessage) ID() uint16 { return IDCompressedMessage }
func (m *CompressedMessage) Encode(w *binary.Writer) error {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return fmt.Errorf("skyline: compress: %w", err)
	}
	if _, err := fw.Write(m.Inner); err != nil {
		return fmt.Errorf("skyline: compress: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("skyline: compress: %w", err)
	}
	w.Bytes32(buf.Bytes())
	return nil
}

func decodeCompressedMessage(r *binary.Reader) (*CompressedMessage, error) {
	compressed, err := r.Bytes32()
	if err != nil {
		return nil, fmt.Errorf("skyline: decode compressed_message: %w", err)
	}
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	inner, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("skyline: inflate compressed_message: %w", err)
	}
	return &CompressedMessage{Inner: inner}, nil
}

// Disconnect ends a Skyline application session.
type Disconnect struct {
	Reason string
}

func (m *Disconnect) ID() uint16 { return IDDisconnect }
func (m *Disconnect) Encode(w *binary.Writer) error {
	w.String(m.Reason)
	return nil
}

// LoginPacket authenticates a peer at the application layer.
type LoginPacket struct {
	Username string
	Token    string
}

func (m *LoginPacket) ID() uint16 { return IDLoginPacket }
func (m *LoginPacket) Encode(w *binary.Writer) error {
	w.String(m.Username)
	w.String(m.Token)
	return nil
}

// LoginResponse answers a LoginPacket.
type LoginResponse struct {
	Accepted bool
	Reason   string
}

func (m *LoginResponse) ID() uint16 { return IDLoginResponse }
func (m *LoginResponse) Encode(w *binary.Writer) error {
	var b uint8
	if m.Accepted {
		b = 1
	}
	w.U8(b)
	w.String(m.Reason)
	return nil
}

// ChannelOp enumerates second-level channel operations nested inside
// a ChannelPacket.
type ChannelOp uint8

const (
	ChannelOpJoinRequest ChannelOp = iota
	ChannelOpJoinResponse
	ChannelOpPermissionUpdate
	ChannelOpMessage
)

// ChannelPacket is the second-level union carrying channel
// join/permission/message operations.
type ChannelPacket struct {
	Op ChannelOp

	// JoinRequest
	ChannelID uint32
	TopicID   uint32

	// JoinResponse
	Accepted bool
	Channel  *channel.Channel

	// PermissionUpdate
	Permissions channel.ChannelPermission

	// Message
	Value value.Value
}

func (m *ChannelPacket) ID() uint16 { return IDChannelPacket }
func (m *ChannelPacket) Encode(w *binary.Writer) error {
	w.U8(uint8(m.Op))
	switch m.Op {
	case ChannelOpJoinRequest:
		w.VarU32(m.ChannelID)
		w.VarU32(m.TopicID)
	case ChannelOpJoinResponse:
		var b uint8
		if m.Accepted {
			b = 1
		}
		w.U8(b)
		hasChannel := m.Channel != nil
		var hb uint8
		if hasChannel {
			hb = 1
		}
		w.U8(hb)
		if hasChannel {
			m.Channel.Encode(w)
		}
	case ChannelOpPermissionUpdate:
		w.VarU32(m.ChannelID)
		w.U8(uint8(m.Permissions))
	case ChannelOpMessage:
		w.VarU32(m.ChannelID)
		w.VarU32(m.TopicID)
		if err := m.Value.Encode(w); err != nil {
			return fmt.Errorf("skyline: encode channel_packet.message: %w", err)
		}
	default:
		return fmt.Errorf("skyline: unknown channel op %d", m.Op)
	}
	return nil
}

func decodeChannelPacket(r *binary.Reader) (*ChannelPacket, error) {
	opByte, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("skyline: decode channel_packet.op: %w", err)
	}
	op := ChannelOp(opByte)
	cp := &ChannelPacket{Op: op}
	switch op {
	case ChannelOpJoinRequest:
		cp.ChannelID, err = r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode join_request.channel_id: %w", err)
		}
		cp.TopicID, err = r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode join_request.topic_id: %w", err)
		}
	case ChannelOpJoinResponse:
		accepted, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode join_response.accepted: %w", err)
		}
		cp.Accepted = accepted != 0
		hasChannel, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode join_response.has_channel: %w", err)
		}
		if hasChannel != 0 {
			cp.Channel, err = channel.DecodeChannel(r)
			if err != nil {
				return nil, fmt.Errorf("skyline: decode join_response.channel: %w", err)
			}
		}
	case ChannelOpPermissionUpdate:
		cp.ChannelID, err = r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode permission_update.channel_id: %w", err)
		}
		perms, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode permission_update.permissions: %w", err)
		}
		cp.Permissions = channel.ChannelPermission(perms)
	case ChannelOpMessage:
		cp.ChannelID, err = r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode message.channel_id: %w", err)
		}
		cp.TopicID, err = r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode message.topic_id: %w", err)
		}
		cp.Value, err = value.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("skyline: decode message.value: %w", err)
		}
	default:
		return nil, fmt.Errorf("skyline: unknown channel op %d", opByte)
	}
	return cp, nil
}

// Encode writes the u16-LE SkylinePacket discriminant followed by p's
// body.
func Encode(p Packet) ([]byte, error) {
	w := binary.NewWriter()
	w.U16LE(p.ID())
	if err := p.Encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode reads the u16-LE discriminant and dispatches to the matching
// packet type.
func Decode(r *binary.Reader) (Packet, error) {
	id, err := r.U16LE()
	if err != nil {
		return nil, fmt.Errorf("skyline: read id: %w", err)
	}
	switch id {
	case IDCompressedMessage:
		return decodeCompressedMessage(r)
	case IDDisconnect:
		reason, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode disconnect: %w", err)
		}
		return &Disconnect{Reason: reason}, nil
	case IDLoginPacket:
		user, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode login_packet.username: %w", err)
		}
		token, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode login_packet.token: %w", err)
		}
		return &LoginPacket{Username: user, Token: token}, nil
	case IDLoginResponse:
		accepted, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode login_response.accepted: %w", err)
		}
		reason, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("skyline: decode login_response.reason: %w", err)
		}
		return &LoginResponse{Accepted: accepted != 0, Reason: reason}, nil
	case IDChannelPacket:
		return decodeChannelPacket(r)
	default:
		return nil, fmt.Errorf("skyline: unknown packet id %d", id)
	}
}
