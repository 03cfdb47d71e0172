package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		NewU32(1, 0x0006),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	fields, err := DecodeFields(EncodeFields([]Field{
		NewU8(1, 0x7F),
		NewU16(2, 0x0008),
		NewU32(3, 0xC1A5),
		NewU64(4, 0xDEAD),
		NewBool(5, true),
		NewString(6, "node"),
		NewBytes(7, []byte{0xA1}),
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if v, err := fields[0].U8(); err != nil || v != 0x7F {
		t.Fatalf("u8 got=%d err=%v", v, err)
	}
	if v, err := fields[1].U16(); err != nil || v != 0x0008 {
		t.Fatalf("u16 got=%d err=%v", v, err)
	}
	if v, err := fields[2].U32(); err != nil || v != 0xC1A5 {
		t.Fatalf("u32 got=%d err=%v", v, err)
	}
	if v, err := fields[3].U64(); err != nil || v != 0xDEAD {
		t.Fatalf("u64 got=%d err=%v", v, err)
	}
	if v, err := fields[4].Bool(); err != nil || !v {
		t.Fatalf("bool got=%v err=%v", v, err)
	}
	if v, err := fields[5].Str(); err != nil || v != "node" {
		t.Fatalf("string got=%q err=%v", v, err)
	}
	if v, err := fields[6].Bytes(); err != nil || !bytes.Equal(v, []byte{0xA1}) {
		t.Fatalf("bytes got=%v err=%v", v, err)
	}
}

func TestAccessorTypeAndLengthErrors(t *testing.T) {
	if _, err := NewU16(1, 1).U32(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	short := Field{ID: 2, Type: TypeU64, Value: []byte{1, 2}}
	if _, err := short.U64(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	bad := Field{ID: 3, Type: TypeBool, Value: []byte{2}}
	if _, err := bad.Bool(); !errors.Is(err, ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", err)
	}
}
