package pager

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Binary property codec
// ───────────────────────────────────────────────────────────────────────────
//
// Node and edge records carry a map of property-key IDs to PropertyValue.
// This codec encodes that map compactly, allocation-free on the write path.
//
// Wire format per property map:
//   [0:2]  PropCount (uint16 LE)
//   For each property:
//     [0:4]  PropKeyID (uint32 LE)
//     [4]    TypeTag   (uint8)
//     [5..]  Payload   (variable)
//
// Type tags:
//   0x00 — nil
//   0x01 — bool (1 byte: 0=false, 1=true)
//   0x02 — int64 (8 bytes LE)
//   0x03 — float64 (8 bytes LE)
//   0x04 — string (uint32 LE length prefix + UTF-8, up to ~8 MiB)
//   0x05 — []byte (uint32 LE length prefix + raw, up to ~8 MiB)
//   0x06 — datetime (8 bytes LE, unix nanoseconds)

const (
	tagNil      byte = 0x00
	tagBool     byte = 0x01
	tagInt64    byte = 0x02
	tagFloat64  byte = 0x03
	tagString   byte = 0x04
	tagBytes    byte = 0x05
	tagDateTime byte = 0x06
)

// PropKind identifies the concrete type held by a PropertyValue.
type PropKind byte

const (
	PropNull PropKind = iota
	PropBool
	PropInt
	PropFloat
	PropString
	PropBytes
	PropDateTime
)

// PropertyValue is the tagged union stored against a property key on a
// node or edge record. Only one of the typed fields is meaningful,
// selected by Kind. DateTime is unix nanoseconds and must fall within
// 1900-01-01..2100-01-01 UTC; Float must be finite.
type PropertyValue struct {
	Kind     PropKind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	Bytes    []byte
	DateTime int64
}

// Property range bounds, expressed as unix nanoseconds.
const (
	MinDateTimeNs int64 = -2208988800_000000000 // 1900-01-01T00:00:00Z
	MaxDateTimeNs int64 = 4102444800_000000000  // 2100-01-01T00:00:00Z
)

// MaxPropBytesLen bounds String/Bytes property values per spec (~8 MiB).
const MaxPropBytesLen = 8 << 20

func NullValue() PropertyValue               { return PropertyValue{Kind: PropNull} }
func BoolValue(v bool) PropertyValue         { return PropertyValue{Kind: PropBool, Bool: v} }
func IntValue(v int64) PropertyValue         { return PropertyValue{Kind: PropInt, Int: v} }
func FloatValue(v float64) PropertyValue     { return PropertyValue{Kind: PropFloat, Float: v} }
func StringValue(v string) PropertyValue     { return PropertyValue{Kind: PropString, Str: v} }
func BytesValue(v []byte) PropertyValue      { return PropertyValue{Kind: PropBytes, Bytes: v} }
func DateTimeValue(ns int64) PropertyValue   { return PropertyValue{Kind: PropDateTime, DateTime: ns} }

// Validate checks the union invariants: finite floats and in-range
// datetimes.
func (v PropertyValue) Validate() error {
	switch v.Kind {
	case PropFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return fmt.Errorf("property value: float must be finite")
		}
	case PropDateTime:
		if v.DateTime < MinDateTimeNs || v.DateTime > MaxDateTimeNs {
			return fmt.Errorf("property value: datetime %d ns out of range", v.DateTime)
		}
	case PropString:
		if len(v.Str) > MaxPropBytesLen {
			return fmt.Errorf("property value: string length %d exceeds %d byte limit", len(v.Str), MaxPropBytesLen)
		}
	case PropBytes:
		if len(v.Bytes) > MaxPropBytesLen {
			return fmt.Errorf("property value: bytes length %d exceeds %d byte limit", len(v.Bytes), MaxPropBytesLen)
		}
	}
	return nil
}

// MarshalProps encodes a property-key-ID -> PropertyValue map into the
// compact binary format. Keys are written in ascending numeric order so
// the encoding is deterministic (needed for reproducible page checksums).
func MarshalProps(props map[uint32]PropertyValue) ([]byte, error) {
	keys := make([]uint32, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sortUint32s(keys)

	est := 2 + len(props)*13
	buf := make([]byte, 0, est)

	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(props)))
	buf = append(buf, hdr[:]...)

	for _, k := range keys {
		v := props[k]
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("property key %d: %w", k, err)
		}
		var kb [4]byte
		binary.LittleEndian.PutUint32(kb[:], k)
		buf = append(buf, kb[:]...)

		switch v.Kind {
		case PropNull:
			buf = append(buf, tagNil)
		case PropBool:
			buf = append(buf, tagBool)
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case PropInt:
			buf = append(buf, tagInt64)
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
			buf = append(buf, b[:]...)
		case PropFloat:
			buf = append(buf, tagFloat64)
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Float))
			buf = append(buf, b[:]...)
		case PropString:
			buf = append(buf, tagString)
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(len(v.Str)))
			buf = append(buf, b[:]...)
			buf = append(buf, v.Str...)
		case PropBytes:
			buf = append(buf, tagBytes)
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(len(v.Bytes)))
			buf = append(buf, b[:]...)
			buf = append(buf, v.Bytes...)
		case PropDateTime:
			buf = append(buf, tagDateTime)
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.DateTime))
			buf = append(buf, b[:]...)
		default:
			return nil, fmt.Errorf("property key %d: unknown kind %d", k, v.Kind)
		}
	}
	return buf, nil
}

// UnmarshalProps decodes a property map from the compact binary format.
func UnmarshalProps(data []byte) (map[uint32]PropertyValue, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("property data too short")
	}
	count := int(binary.LittleEndian.Uint16(data[:2]))
	off := 2
	props := make(map[uint32]PropertyValue, count)

	for i := 0; i < count; i++ {
		if off+5 > len(data) {
			return nil, fmt.Errorf("unexpected end of property data at entry %d", i)
		}
		key := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		tag := data[off]
		off++

		switch tag {
		case tagNil:
			props[key] = NullValue()
		case tagBool:
			if off >= len(data) {
				return nil, fmt.Errorf("truncated bool for key %d", key)
			}
			props[key] = BoolValue(data[off] != 0)
			off++
		case tagInt64:
			if off+8 > len(data) {
				return nil, fmt.Errorf("truncated int64 for key %d", key)
			}
			props[key] = IntValue(int64(binary.LittleEndian.Uint64(data[off : off+8])))
			off += 8
		case tagFloat64:
			if off+8 > len(data) {
				return nil, fmt.Errorf("truncated float64 for key %d", key)
			}
			props[key] = FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8])))
			off += 8
		case tagString:
			if off+4 > len(data) {
				return nil, fmt.Errorf("truncated string len for key %d", key)
			}
			slen := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if slen < 0 || off+slen > len(data) {
				return nil, fmt.Errorf("truncated string data for key %d", key)
			}
			props[key] = StringValue(string(data[off : off+slen]))
			off += slen
		case tagBytes:
			if off+4 > len(data) {
				return nil, fmt.Errorf("truncated bytes len for key %d", key)
			}
			blen := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if blen < 0 || off+blen > len(data) {
				return nil, fmt.Errorf("truncated bytes data for key %d", key)
			}
			dst := make([]byte, blen)
			copy(dst, data[off:off+blen])
			props[key] = BytesValue(dst)
			off += blen
		case tagDateTime:
			if off+8 > len(data) {
				return nil, fmt.Errorf("truncated datetime for key %d", key)
			}
			props[key] = DateTimeValue(int64(binary.LittleEndian.Uint64(data[off : off+8])))
			off += 8
		default:
			return nil, fmt.Errorf("unknown tag 0x%02x for key %d", tag, key)
		}
	}
	return props, nil
}

// sortUint32s is a small insertion sort — property maps are small (tens of
// keys at most), so this avoids pulling in sort.Slice for a hot path.
func sortUint32s(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
