// Package codec encodes cluster command arguments as deterministic CBOR.
// It carries no per-cluster semantics: arguments are a flat string-keyed
// map and devices interpret them.
package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var ErrArgType = errors.New("codec: argument type mismatch")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	// any-typed targets decode maps as map[string]any rather than the CBOR
	// default map[any]any.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeArgs encodes args; nil encodes as an empty map.
func EncodeArgs(args map[string]any) ([]byte, error) {
	if args == nil {
		args = map[string]any{}
	}
	return Marshal(args)
}

// DecodeArgs decodes a payload produced by EncodeArgs. An empty payload
// yields an empty map.
func DecodeArgs(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	if err := Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Diagnose renders data in CBOR diagnostic notation for logs.
func Diagnose(data []byte) string {
	s, err := cbor.Diagnose(data)
	if err != nil {
		return fmt.Sprintf("<invalid cbor: %v>", err)
	}
	return s
}

// Uint reads a non-negative integer argument. CBOR decodes unsigned
// integers as uint64 and negative ones as int64.
func Uint(args map[string]any, key string) (uint64, bool, error) {
	v, ok := args[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case uint64:
		return n, true, nil
	case int64:
		if n < 0 {
			return 0, true, fmt.Errorf("%w: %s=%d is negative", ErrArgType, key, n)
		}
		return uint64(n), true, nil
	default:
		return 0, true, fmt.Errorf("%w: %s is %T", ErrArgType, key, v)
	}
}
