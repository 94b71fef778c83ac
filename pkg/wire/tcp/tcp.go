// Package tcp implements the Skyline TCP-mode framing: a fixed Frame
// id, length-prefixed body, and the Messages union carried inside
// that body, per spec.md §4.5/§6.
package tcp

import (
	"fmt"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

// FrameID is the fixed u16 big-endian id prefixing every TCP frame,
// per spec.md §6.
const FrameID uint16 = 54

// Message ids (u8 discriminant) within a frame body.
const (
	IDConnect      uint8 = 0
	IDHello        uint8 = 1
	IDDisconnect   uint8 = 2
	IDHeartbeatAck uint8 = 3
	IDSplitPacket  uint8 = 6
	IDSplitOk      uint8 = 7
	IDPayload      uint8 = 8
)

// Message is implemented by every TCP-mode body message.
type Message interface {
	ID() uint8
	Encode(w *binary.Writer)
}

// Connect is the client's opening handshake message.
type Connect struct {
	ProtocolVersion uint32
}

func (m *Connect) ID() uint8 { return IDConnect }
func (m *Connect) Encode(w *binary.Writer) {
	w.U32(m.ProtocolVersion)
}

// Hello is the server's handshake acceptance, assigning a session token.
type Hello struct {
	SessionToken []byte
}

func (m *Hello) ID() uint8 { return IDHello }
func (m *Hello) Encode(w *binary.Writer) {
	w.Bytes32(m.SessionToken)
}

// Disconnect terminates the TCP session with a reason code.
type Disconnect struct {
	Reason uint8
}

func (m *Disconnect) ID() uint8 { return IDDisconnect }
func (m *Disconnect) Encode(w *binary.Writer) {
	w.U8(m.Reason)
}

// HeartbeatAck is the server's periodic liveness message, sent on its
// own timer every HeartbeatInterval; no client heartbeat precedes it.
type HeartbeatAck struct {
	Epoch uint64
}

func (m *HeartbeatAck) ID() uint8 { return IDHeartbeatAck }
func (m *HeartbeatAck) Encode(w *binary.Writer) {
	w.U64(m.Epoch)
}

// SplitPacket carries one fragment of a payload exceeding the TCP
// split threshold, independent of UDP's own splitting.
type SplitPacket struct {
	SplitID uint16
	Index   uint32
	Total   uint32
	Chunk   []byte
}

func (m *SplitPacket) ID() uint8 { return IDSplitPacket }
func (m *SplitPacket) Encode(w *binary.Writer) {
	w.U16(m.SplitID)
	w.VarU32(m.Index)
	w.VarU32(m.Total)
	w.Bytes32(m.Chunk)
}

// SplitOk acknowledges full reassembly of a SplitPacket sequence.
type SplitOk struct {
	SplitID uint16
}

func (m *SplitOk) ID() uint8 { return IDSplitOk }
func (m *SplitOk) Encode(w *binary.Writer) {
	w.U16(m.SplitID)
}

// Payload carries a single, non-split application message.
type Payload struct {
	Body []byte
}

func (m *Payload) ID() uint8 { return IDPayload }
func (m *Payload) Encode(w *binary.Writer) {
	w.Bytes32(m.Body)
}

// EncodeFrame wraps msg in the fixed FrameID + length-prefixed body
// framing used on the wire.
func EncodeFrame(msg Message) []byte {
	body := binary.NewWriter()
	body.U8(msg.ID())
	msg.Encode(body)

	w := binary.NewWriter()
	w.U16(FrameID)
	w.Bytes32(body.Bytes())
	return w.Bytes()
}

// DecodeFrame reads the FrameID, body length prefix, and dispatches
// on the message id within the body.
func DecodeFrame(r *binary.Reader) (Message, error) {
	id, err := r.U16()
	if err != nil {
		return nil, fmt.Errorf("tcp: read frame id: %w", err)
	}
	if id != FrameID {
		return nil, fmt.Errorf("tcp: unexpected frame id %d, want %d", id, FrameID)
	}
	body, err := r.Bytes32()
	if err != nil {
		return nil, fmt.Errorf("tcp: read frame body: %w", err)
	}
	br := binary.NewReader(body)
	return decodeMessage(br)
}

func decodeMessage(r *binary.Reader) (Message, error) {
	mid, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("tcp: read message id: %w", err)
	}
	switch mid {
	case IDConnect:
		v, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode connect: %w", err)
		}
		return &Connect{ProtocolVersion: v}, nil
	case IDHello:
		tok, err := r.Bytes32()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode hello: %w", err)
		}
		return &Hello{SessionToken: tok}, nil
	case IDDisconnect:
		reason, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode disconnect: %w", err)
		}
		return &Disconnect{Reason: reason}, nil
	case IDHeartbeatAck:
		epoch, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode heartbeat_ack: %w", err)
		}
		return &HeartbeatAck{Epoch: epoch}, nil
	case IDSplitPacket:
		splitID, err := r.U16()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode split_packet.id: %w", err)
		}
		index, err := r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode split_packet.index: %w", err)
		}
		total, err := r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode split_packet.total: %w", err)
		}
		chunk, err := r.Bytes32()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode split_packet.chunk: %w", err)
		}
		return &SplitPacket{SplitID: splitID, Index: index, Total: total, Chunk: chunk}, nil
	case IDSplitOk:
		splitID, err := r.U16()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode split_ok: %w", err)
		}
		return &SplitOk{SplitID: splitID}, nil
	case IDPayload:
		body, err := r.Bytes32()
		if err != nil {
			return nil, fmt.Errorf("tcp: decode payload: %w", err)
		}
		return &Payload{Body: body}, nil
	default:
		return nil, fmt.Errorf("tcp: unknown message id %d", mid)
	}
}
