package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		U16(1, 2),
		Bytes(200, []byte{0xAA, 0xBB}), // unknown field id
	}
	b, err := EncodeFields(in)
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 200 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestEncodeFieldLayout(t *testing.T) {
	b, err := EncodeFields([]Field{U16(3, 0x0102)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{3, TypeU16, 2, 0, 0x02, 0x01}
	if !bytes.Equal(b, want) {
		t.Fatalf("layout got=% X want=% X", b, want)
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=bytes, len=5, value only 2 bytes
	payload := []byte{1, TypeBytes, 5, 0, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestScalarAccessors(t *testing.T) {
	if v, err := U8(1, 9).AsU8(); err != nil || v != 9 {
		t.Fatalf("u8 got=%d err=%v", v, err)
	}
	if v, err := U32(1, 70000).AsU32(); err != nil || v != 70000 {
		t.Fatalf("u32 got=%d err=%v", v, err)
	}
	if v, err := U64(1, 1<<40).AsU64(); err != nil || v != 1<<40 {
		t.Fatalf("u64 got=%d err=%v", v, err)
	}
	if v, err := I32(1, -1520).AsI32(); err != nil || v != -1520 {
		t.Fatalf("i32 got=%d err=%v", v, err)
	}
	if v, err := F32(1, 12.4).AsF32(); err != nil || v != float32(12.4) {
		t.Fatalf("f32 got=%v err=%v", v, err)
	}
	if _, err := U8(1, 9).AsU16(); err == nil {
		t.Fatalf("expected type mismatch")
	}
	bad := Field{ID: 1, Type: TypeU32, Value: []byte{1, 2}}
	if _, err := bad.AsU32(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestAppendFieldRejectsOversizedValue(t *testing.T) {
	_, err := AppendField(nil, Field{ID: 1, Type: TypeBytes, Value: make([]byte, 1<<16)})
	if !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
}
