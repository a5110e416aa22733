// Package wire implements the splinter wire protocol. Every payload is a
// protobuf message encoded with google.golang.org/protobuf/encoding/protowire;
// field numbers are part of the protocol and immutable. Encoders emit fields
// in ascending field-number order with default values omitted, so the bytes
// of a message are canonical: hashes taken over them are reproducible after a
// decode/re-encode round trip.
package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"splinter/utils"
)

// Message is implemented by every wire payload.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(b []byte) error
}

// Marshal encodes m into canonical bytes.
func Marshal(m Message) ([]byte, error) {
	return m.MarshalWire()
}

// Unmarshal decodes b into m.
func Unmarshal(b []byte, m Message) error {
	return m.UnmarshalWire(b)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendMessage(b []byte, num protowire.Number, m Message) ([]byte, error) {
	inner, err := m.MarshalWire()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

// scan walks the fields of b, invoking visit for each. visit consumes the
// field value from rest and returns the byte count taken; returning 0 lets
// scan skip an unknown field, which is what keeps old readers compatible
// with newer writers.
func scan(b []byte, visit func(num protowire.Number, typ protowire.Type, rest []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return utils.WrapError(utils.KindProtocol, protowire.ParseError(n), "malformed field tag")
		}
		b = b[n:]
		taken, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if taken == 0 {
			taken = protowire.ConsumeFieldValue(num, typ, b)
			if taken < 0 {
				return utils.WrapError(utils.KindProtocol, protowire.ParseError(taken), "malformed field value")
			}
		}
		b = b[taken:]
	}
	return nil
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, utils.WrapError(utils.KindProtocol, protowire.ParseError(n), "malformed string field")
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, utils.WrapError(utils.KindProtocol, protowire.ParseError(n), "malformed bytes field")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeUint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, utils.WrapError(utils.KindProtocol, protowire.ParseError(n), "malformed varint field")
	}
	return v, n, nil
}

func consumeBool(b []byte) (bool, int, error) {
	v, n, err := consumeUint(b)
	return v != 0, n, err
}
