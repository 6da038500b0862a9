package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// GameMessage is a body carried in a CategoryGame frame. The server core only
// routes game messages; their payloads belong to the simulation.
type GameMessage interface {
	gameVariant() protowire.Number
	marshal() []byte
}

// Command is a player action submitted to the room simulation.
type Command struct {
	Kind    string
	Payload []byte
}

// Event is pushed from a game room to its players.
type Event struct {
	Kind    string
	Payload []byte
}

func (*Command) gameVariant() protowire.Number { return 1 }
func (*Event) gameVariant() protowire.Number   { return 2 }

func (m *Command) marshal() []byte {
	b := appendString(nil, 1, m.Kind)
	return appendBytes(b, 2, m.Payload)
}

func (m *Event) marshal() []byte {
	b := appendString(nil, 1, m.Kind)
	return appendBytes(b, 2, m.Payload)
}

// MarshalGame encodes a game body.
func MarshalGame(m GameMessage) []byte {
	return wrapEnvelope(m.gameVariant(), m.marshal())
}

// GameFrame encodes m as a complete CategoryGame frame.
//
// Precondition: m carries only server-built data; use EncodeGame when any part
// of it came from a peer.
func GameFrame(m GameMessage) []byte {
	return MustEncode(CategoryGame, MarshalGame(m))
}

// EncodeGame encodes m as a complete CategoryGame frame, reporting
// ErrFrameTooLarge instead of panicking.
func EncodeGame(m GameMessage) ([]byte, error) {
	return Encode(CategoryGame, MarshalGame(m))
}

// UnmarshalGame decodes a game body.
func UnmarshalGame(b []byte) (GameMessage, error) {
	num, inner, err := unwrapEnvelope(b)
	if err != nil {
		return nil, err
	}
	fields, err := parseFields(inner)
	if err != nil {
		return nil, err
	}

	var kind string
	var payload []byte
	for _, f := range fields {
		switch f.num {
		case 1:
			if err := expect(f, protowire.BytesType); err != nil {
				return nil, err
			}
			kind = string(f.bytes)
		case 2:
			if err := expect(f, protowire.BytesType); err != nil {
				return nil, err
			}
			payload = f.bytes
		}
	}

	switch num {
	case 1:
		return &Command{Kind: kind, Payload: payload}, nil
	case 2:
		return &Event{Kind: kind, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown game variant %d", ErrMalformedBody, num)
	}
}
