package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// Scheduler states are persisted as a small protobuf message:
//
//	1: type name, "<package path>.<Type>,v<version>"
//	2: payload produced by the state's MarshalBinary
//
// Decoding binds the type on its short name only, so blobs written by an older version of a state still load.
const (
	fieldTypeName protowire.Number = 1
	fieldPayload  protowire.Number = 2

	pkgPath = "zexplore/scheduler"
)

type stateType struct {
	version int
	new     func() State
}

var (
	stateTypesMu sync.RWMutex
	stateTypes   = map[string]stateType{}
)

// Register a state type so that it can be decoded from a blob
func RegisterState(shortName string, version int, new func() State) {
	stateTypesMu.Lock()
	defer stateTypesMu.Unlock()
	if _, ok := stateTypes[shortName]; ok {
		panic(fmt.Sprintf("scheduler: state type %q registered twice", shortName))
	}
	stateTypes[shortName] = stateType{version: version, new: new}
}

func typeNameOf(s State) string {
	name := fmt.Sprintf("%T", s)
	name = strings.TrimPrefix(name, "*")
	name = name[strings.LastIndex(name, ".")+1:]
	stateTypesMu.RLock()
	defer stateTypesMu.RUnlock()
	st, ok := stateTypes[name]
	if !ok {
		panic(fmt.Sprintf("scheduler: state type %q is not registered", name))
	}
	return fmt.Sprintf("%v.%v,v%d", pkgPath, name, st.version)
}

// Returns the type name with the package path and the version removed
func shortName(typeName string) string {
	if i := strings.Index(typeName, ","); i >= 0 {
		typeName = typeName[:i]
	}
	typeName = strings.TrimSpace(typeName)
	return typeName[strings.LastIndex(typeName, ".")+1:]
}

// Encode the state into a self describing blob
func EncodeState(s State) ([]byte, error) {
	payload, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, fieldTypeName, protowire.BytesType)
	b = protowire.AppendString(b, typeNameOf(s))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b, nil
}

// Decode a blob produced by EncodeState.
//
// Returns ErrUnknownStateType if the short type name does not match any registered state type.
func DecodeState(blob []byte) (State, error) {
	var (
		typeName string
		payload  []byte
	)
	err := decodeFields(blob, func(num protowire.Number, _ uint64, bs []byte) error {
		switch num {
		case fieldTypeName:
			typeName = string(bs)
		case fieldPayload:
			payload = bs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stateTypesMu.RLock()
	st, ok := stateTypes[shortName(typeName)]
	stateTypesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStateType, typeName)
	}
	s := st.new()
	if err := s.UnmarshalBinary(payload); err != nil {
		return nil, err
	}
	return s, nil
}

// Walks the fields of a message. Varint fields are passed as v, length delimited fields as bs.
func decodeFields(b []byte, f func(num protowire.Number, v uint64, bs []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedState, protowire.ParseError(n))
		}
		b = b[n:]
		var (
			v  uint64
			bs []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			bs, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedState, protowire.ParseError(n))
		}
		b = b[n:]
		if err := f(num, v, bs); err != nil {
			return err
		}
	}
	return nil
}

// Builds the payload of a state
type encoder struct {
	b []byte
}

func (e *encoder) int(num protowire.Number, v int) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeZigZag(int64(v)))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeBool(v))
}

// Packed repeated field
func (e *encoder) ints(num protowire.Number, vs []int) {
	var inner []byte
	for _, v := range vs {
		inner = protowire.AppendVarint(inner, protowire.EncodeZigZag(int64(v)))
	}
	e.bytes(num, inner)
}

func (e *encoder) bytes(num protowire.Number, bs []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, bs)
}

func decodeInt(v uint64) int {
	return int(protowire.DecodeZigZag(v))
}

func decodeInts(bs []byte) ([]int, error) {
	out := []int{}
	for len(bs) > 0 {
		v, n := protowire.ConsumeVarint(bs)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedState, protowire.ParseError(n))
		}
		out = append(out, decodeInt(v))
		bs = bs[n:]
	}
	return out, nil
}
