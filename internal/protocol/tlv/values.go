package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
)

func U8(id uint8, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func U16(id uint8, v uint16) Field {
	return Field{ID: id, Type: TypeU16, Value: binary.LittleEndian.AppendUint16(nil, v)}
}

func U32(id uint8, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.LittleEndian.AppendUint32(nil, v)}
}

func U64(id uint8, v uint64) Field {
	return Field{ID: id, Type: TypeU64, Value: binary.LittleEndian.AppendUint64(nil, v)}
}

func I32(id uint8, v int32) Field {
	return Field{ID: id, Type: TypeI32, Value: binary.LittleEndian.AppendUint32(nil, uint32(v))}
}

func F32(id uint8, v float32) Field {
	return Field{ID: id, Type: TypeF32, Value: binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))}
}

func Bytes(id uint8, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

func (f Field) checkWidth(expected uint8) error {
	if err := MustType(f, expected); err != nil {
		return err
	}
	if w := WidthOf(expected); w >= 0 && len(f.Value) != w {
		return fmt.Errorf("%w: field %d has %d bytes, want %d", ErrInvalidLength, f.ID, len(f.Value), w)
	}
	return nil
}

func (f Field) AsU8() (uint8, error) {
	if err := f.checkWidth(TypeU8); err != nil {
		return 0, err
	}
	return f.Value[0], nil
}

func (f Field) AsU16() (uint16, error) {
	if err := f.checkWidth(TypeU16); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(f.Value), nil
}

func (f Field) AsU32() (uint32, error) {
	if err := f.checkWidth(TypeU32); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(f.Value), nil
}

func (f Field) AsU64() (uint64, error) {
	if err := f.checkWidth(TypeU64); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(f.Value), nil
}

func (f Field) AsI32() (int32, error) {
	if err := f.checkWidth(TypeI32); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(f.Value)), nil
}

func (f Field) AsF32() (float32, error) {
	if err := f.checkWidth(TypeF32); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(f.Value)), nil
}

func (f Field) AsBytes() ([]byte, error) {
	if err := MustType(f, TypeBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}
