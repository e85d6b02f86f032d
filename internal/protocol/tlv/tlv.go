package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderLen is the per-field overhead: id(1) type(1) length(2, little-endian).
const HeaderLen = 4

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrValueTooLarge    = errors.New("tlv: value too large")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
)

// Type IDs.
const (
	TypeU8    uint8 = 1
	TypeU16   uint8 = 2
	TypeU32   uint8 = 3
	TypeU64   uint8 = 4
	TypeI32   uint8 = 5
	TypeF32   uint8 = 6
	TypeBytes uint8 = 7
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint8
	Type  uint8
	Value []byte
}

// AppendField appends the encoding of f to dst.
func AppendField(dst []byte, f Field) ([]byte, error) {
	if len(f.Value) > math.MaxUint16 {
		return dst, fmt.Errorf("%w: field %d has %d bytes", ErrValueTooLarge, f.ID, len(f.Value))
	}
	dst = append(dst, f.ID, f.Type)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Value)))
	return append(dst, f.Value...), nil
}

// EncodeFields encodes fields in the order given.
func EncodeFields(fields []Field) ([]byte, error) {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	var err error
	for _, f := range fields {
		if out, err = AppendField(out, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeFields decodes every field in payload. Values are copied.
func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := payload[i]
		typeID := payload[i+1]
		l := int(binary.LittleEndian.Uint16(payload[i+2 : i+4]))
		i += HeaderLen
		if len(payload)-i < l {
			return nil, fmt.Errorf("%w: field %d wants %d bytes, %d left", ErrShortFieldValue, id, l, len(payload)-i)
		}
		val := make([]byte, l)
		copy(val, payload[i:i+l])
		i += l
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func GetField(fields []Field, id uint8) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("tlv: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}

// WidthOf returns the fixed value width for scalar types, or -1.
func WidthOf(typeID uint8) int {
	switch typeID {
	case TypeU8:
		return 1
	case TypeU16:
		return 2
	case TypeU32, TypeI32, TypeF32:
		return 4
	case TypeU64:
		return 8
	default:
		return -1
	}
}
