// Package online implements the OnlinePackets union exchanged once a
// session is established: Ping/Pong keepalives, Datagram carriers, and
// Ack/Nack acknowledgements. Per spec.md §4.1, the OnlinePackets
// discriminant is one of the two little-endian exceptions to the
// otherwise-big-endian wire format.
package online

import (
	"fmt"

	"github.com/skyline-net/skyline/pkg/wire/binary"
	"github.com/skyline-net/skyline/pkg/wire/dataset"
)

// Online packet ids (u16-LE discriminant), per spec.md §6.
const (
	IDPing     uint16 = 0
	IDPong     uint16 = 1
	IDDatagram uint16 = 2
	IDAck      uint16 = 3
)

// AckVariant distinguishes a positive from a negative acknowledgement
// within an Ack packet's body (u8 sub-tag, nested inside the u16-LE
// OnlinePackets discriminant).
type AckVariant uint8

const (
	AckVariantNack AckVariant = 0
	AckVariantAck  AckVariant = 1
)

// Packet is implemented by every online message.
type Packet interface {
	ID() uint16
	Encode(w *binary.Writer)
}

// Ping is a connected-session liveness probe.
type Ping struct {
	PingTime uint64
}

func (p *Ping) ID() uint16 { return IDPing }
func (p *Ping) Encode(w *binary.Writer) {
	w.U64(p.PingTime)
}

// Pong answers a connected-session Ping.
type Pong struct {
	PingTime uint64
}

func (p *Pong) ID() uint16 { return IDPong }
func (p *Pong) Encode(w *binary.Writer) {
	w.U64(p.PingTime)
}

// DatagramPacket carries one outer Datagram of DataSets. DecodeErrors
// holds any per-DataSet decode failures encountered while parsing this
// datagram (see Decode) — a malformed set never fails the whole
// datagram, per spec.md §4.3/§7.
type DatagramPacket struct {
	Datagram     *dataset.Datagram
	DecodeErrors []error
}

func (p *DatagramPacket) ID() uint16 { return IDDatagram }
func (p *DatagramPacket) Encode(w *binary.Writer) {
	// Encode errors only occur on oversized payloads, which the send
	// engine's split step guarantees never reach here.
	_ = p.Datagram.Encode(w)
}

// Acknowledgement carries a set of datagram sequence numbers being
// ack'd or nack'd, plus an optional advisory list of split ids that
// were fully reassembled (or abandoned) alongside them. Per spec.md
// §9, Splits is advisory only: the outer datagram sequence numbers in
// Seqs are authoritative, and a receiver that does not understand
// Splits may ignore it without breaking correctness.
type Acknowledgement struct {
	Variant AckVariant
	Seqs    []uint32
	Splits  []uint16 // nil when absent
}

func (p *Acknowledgement) ID() uint16 { return IDAck }
func (p *Acknowledgement) Encode(w *binary.Writer) {
	w.U8(uint8(p.Variant))
	w.VarU32(uint32(len(p.Seqs)))
	for _, s := range p.Seqs {
		w.U32(s)
	}
	hasSplits := p.Splits != nil
	var hb uint8
	if hasSplits {
		hb = 1
	}
	w.U8(hb)
	if hasSplits {
		w.VarU32(uint32(len(p.Splits)))
		for _, id := range p.Splits {
			w.U16(id)
		}
	}
}

// Encode writes the u16-LE OnlinePackets discriminant followed by p's
// body.
func Encode(p Packet) []byte {
	w := binary.NewWriter()
	w.U16LE(p.ID())
	p.Encode(w)
	return w.Bytes()
}

// Decode reads the u16-LE discriminant and dispatches to the matching
// packet type.
func Decode(r *binary.Reader) (Packet, error) {
	id, err := r.U16LE()
	if err != nil {
		return nil, fmt.Errorf("online: read id: %w", err)
	}
	switch id {
	case IDPing:
		t, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("online: decode ping: %w", err)
		}
		return &Ping{PingTime: t}, nil
	case IDPong:
		t, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("online: decode pong: %w", err)
		}
		return &Pong{PingTime: t}, nil
	case IDDatagram:
		dg, errs, err := dataset.DecodeDatagramLenient(r)
		if err != nil {
			return nil, fmt.Errorf("online: decode datagram: %w", err)
		}
		return &DatagramPacket{Datagram: dg, DecodeErrors: errs}, nil
	case IDAck:
		return decodeAck(r)
	default:
		return nil, fmt.Errorf("online: unknown packet id %d", id)
	}
}

func decodeAck(r *binary.Reader) (*Acknowledgement, error) {
	variant, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("online: decode ack.variant: %w", err)
	}
	count, err := r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("online: decode ack.seqs_len: %w", err)
	}
	seqs := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		s, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("online: decode ack.seqs[%d]: %w", i, err)
		}
		seqs = append(seqs, s)
	}
	hasSplits, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("online: decode ack.has_splits: %w", err)
	}
	ack := &Acknowledgement{Variant: AckVariant(variant), Seqs: seqs}
	if hasSplits != 0 {
		scount, err := r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("online: decode ack.splits_len: %w", err)
		}
		splits := make([]uint16, 0, scount)
		for i := uint32(0); i < scount; i++ {
			id, err := r.U16()
			if err != nil {
				return nil, fmt.Errorf("online: decode ack.splits[%d]: %w", i, err)
			}
			splits = append(splits, id)
		}
		ack.Splits = splits
	}
	return ack, nil
}
