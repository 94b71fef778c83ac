// Package dataset implements the DataSet/Datagram wire types shared by
// both the UDP send and receive reliability engines.
package dataset

import (
	"errors"
	"fmt"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

// Flag bits for DataSet.Flags, per spec.md §6.
const (
	FlagSplit      uint8 = 0x01
	FlagReliable   uint8 = 0x02
	FlagOrdered    uint8 = 0x04
	FlagUnreliable uint8 = 0x08
)

// Flags is a bitfield over {Split, Reliable, Ordered, Unreliable}.
type Flags uint8

func (f Flags) IsSplit() bool      { return uint8(f)&FlagSplit != 0 }
func (f Flags) IsReliable() bool   { return uint8(f)&FlagReliable != 0 }
func (f Flags) IsOrdered() bool    { return uint8(f)&FlagOrdered != 0 }
func (f Flags) IsUnreliable() bool { return uint8(f)&FlagUnreliable != 0 }

func (f Flags) With(bit uint8) Flags { return Flags(uint8(f) | bit) }

// SplitInfo identifies one fragment of a split payload.
type SplitInfo struct {
	ID    uint16
	Total uint32
	Index uint32
}

// OrderInfo identifies a DataSet's position within a per-channel
// ordering queue.
type OrderInfo struct {
	ID       uint16
	Index    uint32
	Sequence uint32
}

// DataSet is a single application payload plus its reliability,
// ordering, and split metadata. Optional-field gating (§3 invariant)
// is enforced by Encode/Decode: absent fields are never written, and
// decoders never attempt to read a field whose predicate is false.
type DataSet struct {
	Flags       Flags
	Seq         uint32
	ReliableSeq uint32 // valid iff Flags.IsReliable()
	Split       SplitInfo
	Order       OrderInfo
	Payload     []byte
}

// ErrPayloadTooLarge is returned by Encode when Payload exceeds the
// u16 length-prefix field's range.
var ErrPayloadTooLarge = errors.New("dataset: payload exceeds u16 length prefix")

// Encode writes ds per spec.md §4.1/§6 field order: flags, seq,
// [reliable_seq], [SplitInfo], [OrderInfo], payload_len, payload.
func (ds *DataSet) Encode(w *binary.Writer) error {
	if len(ds.Payload) > 0xffff {
		return ErrPayloadTooLarge
	}
	w.U8(uint8(ds.Flags))
	w.VarU32(ds.Seq)
	if ds.Flags.IsReliable() {
		w.VarU32(ds.ReliableSeq)
	}
	if ds.Flags.IsSplit() {
		w.U16(ds.Split.ID)
		w.VarU32(ds.Split.Total)
		w.VarU32(ds.Split.Index)
	}
	if ds.Flags.IsOrdered() {
		w.U16(ds.Order.ID)
		w.VarU32(ds.Order.Index)
		w.VarU32(ds.Order.Sequence)
	}
	w.Bytes16(ds.Payload)
	return nil
}

// Decode reads a DataSet, only consuming optional fields whose
// predicate bit is set on Flags.
func Decode(r *binary.Reader) (*DataSet, error) {
	flagByte, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("dataset: read flags: %w", err)
	}
	ds := &DataSet{Flags: Flags(flagByte)}

	ds.Seq, err = r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("dataset: read seq: %w", err)
	}

	if ds.Flags.IsReliable() {
		ds.ReliableSeq, err = r.VarU32()
		if err != nil {
			return nil, fmt.Errorf("dataset: read reliable_seq: %w", err)
		}
	}

	if ds.Flags.IsSplit() {
		if ds.Split.ID, err = r.U16(); err != nil {
			return nil, fmt.Errorf("dataset: read split.id: %w", err)
		}
		if ds.Split.Total, err = r.VarU32(); err != nil {
			return nil, fmt.Errorf("dataset: read split.total: %w", err)
		}
		if ds.Split.Index, err = r.VarU32(); err != nil {
			return nil, fmt.Errorf("dataset: read split.index: %w", err)
		}
	}

	if ds.Flags.IsOrdered() {
		if ds.Order.ID, err = r.U16(); err != nil {
			return nil, fmt.Errorf("dataset: read order.id: %w", err)
		}
		if ds.Order.Index, err = r.VarU32(); err != nil {
			return nil, fmt.Errorf("dataset: read order.index: %w", err)
		}
		if ds.Order.Sequence, err = r.VarU32(); err != nil {
			return nil, fmt.Errorf("dataset: read order.sequence: %w", err)
		}
	}

	ds.Payload, err = r.Bytes16()
	if err != nil {
		return nil, fmt.Errorf("dataset: read payload: %w", err)
	}

	return ds, nil
}

// Datagram is the outer UDP carrier: a sequence number plus an
// ordered sequence of DataSet.
type Datagram struct {
	Sequence uint32
	Sets     []*DataSet
}

// NewDatagram returns an empty Datagram with the given sequence.
func NewDatagram(seq uint32) *Datagram {
	return &Datagram{Sequence: seq}
}

// Push appends ds to the datagram.
func (d *Datagram) Push(ds *DataSet) {
	d.Sets = append(d.Sets, ds)
}

// Encode writes the datagram's sequence followed by a varu32-length-
// prefixed sequence of DataSet.
func (d *Datagram) Encode(w *binary.Writer) error {
	w.U32(d.Sequence)
	w.VarU32(uint32(len(d.Sets)))
	for _, ds := range d.Sets {
		if err := ds.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeDatagram reads a Datagram, failing the whole datagram on the
// first DataSet that does not decode. DecodeDatagramLenient instead
// keeps the sets decoded before the failure.
func DecodeDatagram(r *binary.Reader) (*Datagram, error) {
	seq, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("datagram: read sequence: %w", err)
	}
	count, err := r.VarU32()
	if err != nil {
		return nil, fmt.Errorf("datagram: read set count: %w", err)
	}
	d := &Datagram{Sequence: seq, Sets: make([]*DataSet, 0, count)}
	for i := uint32(0); i < count; i++ {
		ds, err := Decode(r)
		if err != nil {
			return nil, fmt.Errorf("datagram: decode set %d: %w", i, err)
		}
		d.Sets = append(d.Sets, ds)
	}
	return d, nil
}

// DecodeDatagramLenient reads a Datagram without failing it as a
// whole on a bad DataSet: decoding stops at the first set that does
// not decode, the sets before it are returned, and the sets after it
// are lost. The returned error list holds at most that one error.
func DecodeDatagramLenient(r *binary.Reader) (*Datagram, []error, error) {
	seq, err := r.U32()
	if err != nil {
		return nil, nil, fmt.Errorf("datagram: read sequence: %w", err)
	}
	count, err := r.VarU32()
	if err != nil {
		return nil, nil, fmt.Errorf("datagram: read set count: %w", err)
	}
	d := &Datagram{Sequence: seq, Sets: make([]*DataSet, 0, count)}
	var errs []error
	for i := uint32(0); i < count; i++ {
		ds, err := Decode(r)
		if err != nil {
			// A malformed set corrupts the cursor for any sibling sets
			// that follow it; there is no resynchronization marker on
			// the wire, so we stop this datagram's decode here but
			// still return what we successfully parsed.
			errs = append(errs, fmt.Errorf("set %d: %w", i, err))
			break
		}
		d.Sets = append(d.Sets, ds)
	}
	return d, errs, nil
}
