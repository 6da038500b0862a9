package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedBody is returned when a frame body cannot be decoded for its category.
var ErrMalformedBody = errors.New("malformed frame body")

// Every body is an envelope holding exactly one length-delimited field. The field
// number names the message variant; the field value is the variant's own fields
// in protobuf binary form.

// field is one decoded protobuf field. Only varint and length-delimited values
// are retained; other wire types are skipped.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedBody, num, protowire.ParseError(n))
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

// unwrapEnvelope returns the variant number and inner bytes of an envelope.
// When several variants are present the last one wins, matching protobuf oneof
// semantics.
func unwrapEnvelope(b []byte) (protowire.Number, []byte, error) {
	fields, err := parseFields(b)
	if err != nil {
		return 0, nil, err
	}
	var (
		num   protowire.Number
		inner []byte
	)
	for _, f := range fields {
		if f.typ == protowire.BytesType {
			num, inner = f.num, f.bytes
		}
	}
	if num == 0 {
		return 0, nil, fmt.Errorf("%w: empty envelope", ErrMalformedBody)
	}
	return num, inner, nil
}

func wrapEnvelope(num protowire.Number, inner []byte) []byte {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
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

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// expect checks that a known field arrived with the wire type its schema declares.
func expect(f field, typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d", ErrMalformedBody, f.num, f.typ)
	}
	return nil
}
