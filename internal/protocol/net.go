package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// NetMessage is a body carried in a CategoryNet frame. Net messages drive room
// membership and connection keepalive.
type NetMessage interface {
	netVariant() protowire.Number
	marshal() []byte
}

// EnterRoom asks to be moved into another room.
type EnterRoom struct {
	RoomID uint64
}

// RoomEntered tells a client which room now receives its frames.
type RoomEntered struct {
	RoomID uint64
	Name   string
}

// Ping is answered with a Pong carrying the same nonce.
type Ping struct {
	Nonce uint64
}

// Pong answers a Ping.
type Pong struct {
	Nonce uint64
}

func (*EnterRoom) netVariant() protowire.Number   { return 1 }
func (*RoomEntered) netVariant() protowire.Number { return 2 }
func (*Ping) netVariant() protowire.Number        { return 3 }
func (*Pong) netVariant() protowire.Number        { return 4 }

func (m *EnterRoom) marshal() []byte { return appendVarint(nil, 1, m.RoomID) }
func (m *Ping) marshal() []byte      { return appendVarint(nil, 1, m.Nonce) }
func (m *Pong) marshal() []byte      { return appendVarint(nil, 1, m.Nonce) }

func (m *RoomEntered) marshal() []byte {
	b := appendVarint(nil, 1, m.RoomID)
	return appendString(b, 2, m.Name)
}

// MarshalNet encodes a net body.
func MarshalNet(m NetMessage) []byte {
	return wrapEnvelope(m.netVariant(), m.marshal())
}

// NetFrame encodes m as a complete CategoryNet frame.
func NetFrame(m NetMessage) []byte {
	return MustEncode(CategoryNet, MarshalNet(m))
}

// UnmarshalNet decodes a net body.
func UnmarshalNet(b []byte) (NetMessage, error) {
	num, inner, err := unwrapEnvelope(b)
	if err != nil {
		return nil, err
	}
	fields, err := parseFields(inner)
	if err != nil {
		return nil, err
	}

	varintField := func(want protowire.Number) (uint64, error) {
		var v uint64
		for _, f := range fields {
			if f.num != want {
				continue
			}
			if err := expect(f, protowire.VarintType); err != nil {
				return 0, err
			}
			v = f.varint
		}
		return v, nil
	}

	switch num {
	case 1:
		id, err := varintField(1)
		if err != nil {
			return nil, err
		}
		return &EnterRoom{RoomID: id}, nil
	case 2:
		id, err := varintField(1)
		if err != nil {
			return nil, err
		}
		m := &RoomEntered{RoomID: id}
		for _, f := range fields {
			if f.num == 2 {
				if err := expect(f, protowire.BytesType); err != nil {
					return nil, err
				}
				m.Name = string(f.bytes)
			}
		}
		return m, nil
	case 3:
		n, err := varintField(1)
		if err != nil {
			return nil, err
		}
		return &Ping{Nonce: n}, nil
	case 4:
		n, err := varintField(1)
		if err != nil {
			return nil, err
		}
		return &Pong{Nonce: n}, nil
	default:
		return nil, fmt.Errorf("%w: unknown net variant %d", ErrMalformedBody, num)
	}
}
