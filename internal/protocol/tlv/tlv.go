package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
	ErrInvalidBool      = errors.New("tlv: invalid bool value")
)

const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

// DecodeFields parses payload into fields in wire order. Unknown ids are
// kept.
func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 8)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint64(len(payload)-i) < uint64(l) {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("%w: field %d got %d want %d", ErrTypeMismatch, f.ID, f.Type, expected)
	}
	return nil
}

func NewU8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func NewU16(id uint16, v uint16) Field {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return Field{ID: id, Type: TypeU16, Value: buf}
}

func NewU32(id uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeU32, Value: buf}
}

func NewU64(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

func NewBool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func NewString(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

// NewBytes copies v.
func NewBytes(id uint16, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

func (f Field) U8() (uint8, error) {
	if err := f.expect(TypeU8, 1); err != nil {
		return 0, err
	}
	return f.Value[0], nil
}

func (f Field) U16() (uint16, error) {
	if err := f.expect(TypeU16, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(f.Value), nil
}

func (f Field) U32() (uint32, error) {
	if err := f.expect(TypeU32, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (f Field) U64() (uint64, error) {
	if err := f.expect(TypeU64, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (f Field) Bool() (bool, error) {
	if err := f.expect(TypeBool, 1); err != nil {
		return false, err
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: field %d byte 0x%02X", ErrInvalidBool, f.ID, f.Value[0])
	}
}

func (f Field) Str() (string, error) {
	if err := MustType(f, TypeString); err != nil {
		return "", err
	}
	return string(f.Value), nil
}

// Bytes returns a copy of the value.
func (f Field) Bytes() ([]byte, error) {
	if err := MustType(f, TypeBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}

func (f Field) expect(typeID uint8, size int) error {
	if err := MustType(f, typeID); err != nil {
		return err
	}
	if len(f.Value) != size {
		return fmt.Errorf("%w: field %d len=%d want %d", ErrInvalidLength, f.ID, len(f.Value), size)
	}
	return nil
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: u32 len=%d", ErrInvalidLength, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
