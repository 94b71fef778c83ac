// Package value implements the Skyline API's dynamically-typed Value
// union: the JSON-like payload type carried by channel messages, per
// spec.md §6 and grounded on original_source's value.rs.
package value

import (
	"fmt"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

// Value tag ids (u8 discriminant).
const (
	TagString  uint8 = 0
	TagNumber  uint8 = 1
	TagInteger uint8 = 2
	TagBoolean uint8 = 3
	TagNull    uint8 = 4
	TagList    uint8 = 5
	TagDate    uint8 = 6
	TagMap     uint8 = 7
)

// ErrUnsupportedMapKey is returned when decoding or encoding a Map
// whose key is not one of String, Number, or Boolean.
var ErrUnsupportedMapKey = fmt.Errorf("value: map keys must be string, number, or boolean")

// Value is a closed sum type mirroring the Skyline API's dynamic
// value model. Exactly one of the typed fields is meaningful,
// selected by Tag.
type Value struct {
	Tag     uint8
	Str     string
	Num     float64
	Int     int64
	Bool    bool
	List    []Value
	Date    uint64
	MapKeys []Value
	MapVals []Value
}

func String(s string) Value   { return Value{Tag: TagString, Str: s} }
func Number(n float64) Value  { return Value{Tag: TagNumber, Num: n} }
func Integer(i int64) Value   { return Value{Tag: TagInteger, Int: i} }
func Boolean(b bool) Value    { return Value{Tag: TagBoolean, Bool: b} }
func Null() Value             { return Value{Tag: TagNull} }
func List(v []Value) Value    { return Value{Tag: TagList, List: v} }
func Date(epoch uint64) Value { return Value{Tag: TagDate, Date: epoch} }

// Map constructs a Map value. Every entry in keys must be a String,
// Number, or Boolean Value; Encode returns ErrUnsupportedMapKey
// otherwise.
func Map(keys, vals []Value) Value {
	return Value{Tag: TagMap, MapKeys: keys, MapVals: vals}
}

func isValidMapKey(v Value) bool {
	switch v.Tag {
	case TagString, TagNumber, TagBoolean:
		return true
	default:
		return false
	}
}

// Encode writes v per spec.md's tagged-union wire layout.
func (v Value) Encode(w *binary.Writer) error {
	w.U8(v.Tag)
	switch v.Tag {
	case TagString:
		w.String(v.Str)
	case TagNumber:
		w.F64(v.Num)
	case TagInteger:
		w.U64(uint64(v.Int))
	case TagBoolean:
		var b uint8
		if v.Bool {
			b = 1
		}
		w.U8(b)
	case TagNull:
		// no body
	case TagList:
		w.VarU32(uint32(len(v.List)))
		for _, e := range v.List {
			if err := e.Encode(w); err != nil {
				return err
			}
		}
	case TagDate:
		w.U64(v.Date)
	case TagMap:
		if len(v.MapKeys) != len(v.MapVals) {
			return fmt.Errorf("value: map keys/values length mismatch")
		}
		w.VarU32(uint32(len(v.MapKeys)))
		for i, k := range v.MapKeys {
			if !isValidMapKey(k) {
				return ErrUnsupportedMapKey
			}
			if err := k.Encode(w); err != nil {
				return err
			}
			if err := v.MapVals[i].Encode(w); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("value: unknown tag %d", v.Tag)
	}
	return nil
}

// Decode reads a Value, recursing into List/Map elements.
func Decode(r *binary.Reader) (Value, error) {
	tag, err := r.U8()
	if err != nil {
		return Value{}, fmt.Errorf("value: read tag: %w", err)
	}
	switch tag {
	case TagString:
		s, err := r.String()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode string: %w", err)
		}
		return String(s), nil
	case TagNumber:
		n, err := r.F64()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode number: %w", err)
		}
		return Number(n), nil
	case TagInteger:
		i, err := r.U64()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode integer: %w", err)
		}
		return Integer(int64(i)), nil
	case TagBoolean:
		b, err := r.U8()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode boolean: %w", err)
		}
		return Boolean(b != 0), nil
	case TagNull:
		return Null(), nil
	case TagList:
		count, err := r.VarU32()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode list length: %w", err)
		}
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			e, err := Decode(r)
			if err != nil {
				return Value{}, fmt.Errorf("value: decode list[%d]: %w", i, err)
			}
			items = append(items, e)
		}
		return List(items), nil
	case TagDate:
		d, err := r.U64()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode date: %w", err)
		}
		return Date(d), nil
	case TagMap:
		count, err := r.VarU32()
		if err != nil {
			return Value{}, fmt.Errorf("value: decode map length: %w", err)
		}
		keys := make([]Value, 0, count)
		vals := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			k, err := Decode(r)
			if err != nil {
				return Value{}, fmt.Errorf("value: decode map key[%d]: %w", i, err)
			}
			if !isValidMapKey(k) {
				return Value{}, ErrUnsupportedMapKey
			}
			v, err := Decode(r)
			if err != nil {
				return Value{}, fmt.Errorf("value: decode map val[%d]: %w", i, err)
			}
			keys = append(keys, k)
			vals = append(vals, v)
		}
		return Map(keys, vals), nil
	default:
		return Value{}, fmt.Errorf("value: unknown tag %d", tag)
	}
}
