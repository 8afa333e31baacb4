// Package protos decodes the protobuf manifests served by the Sophon API.
//
// The messages are decoded straight from the wire format; unknown fields are skipped
// so newer manifests keep working.
package protos

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a manifest message that can be read from and written to the wire format
type Message interface {
	Unmarshal(b []byte) error
	Marshal() []byte
}

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeMessage(b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, b), nil
}

func checkType(got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("unexpected wire type %d, want %d", got, want)
	}
	return nil
}

func readString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if err := checkType(typ, protowire.BytesType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeString(b)
	*dst = v
	return n, nil
}

func readVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if err := checkType(typ, protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	*dst = v
	return n, nil
}

func readInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	var v uint64
	n, err := readVarint(typ, b, &v)
	*dst = int64(v)
	return n, err
}

func readInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	var v uint64
	n, err := readVarint(typ, b, &v)
	*dst = int32(v)
	return n, err
}

func readMessage(typ protowire.Type, b []byte, msg Message) (int, error) {
	if err := checkType(typ, protowire.BytesType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, msg.Unmarshal(v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg.Marshal())
}
