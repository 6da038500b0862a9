package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Role is the role a client declares when logging in.
type Role int32

const (
	RolePlayer Role = iota
	RoleCheatPlayer
	RoleAdmin
)

// String returns the role name as it appears in token claims.
func (r Role) String() string {
	switch r {
	case RolePlayer:
		return "Player"
	case RoleCheatPlayer:
		return "CheatPlayer"
	case RoleAdmin:
		return "Admin"
	default:
		return fmt.Sprintf("Role(%d)", int32(r))
	}
}

// AuthMessage is a body carried in a CategoryAuth frame.
type AuthMessage interface {
	authVariant() protowire.Number
	marshal() []byte
}

// Login asks the server to authenticate the connection with a signed token.
type Login struct {
	Token string
	Role  Role
}

func (*Login) authVariant() protowire.Number { return 1 }

func (m *Login) marshal() []byte {
	b := appendString(nil, 1, m.Token)
	return appendVarint(b, 2, uint64(m.Role))
}

// MarshalAuth encodes an auth body.
func MarshalAuth(m AuthMessage) []byte {
	return wrapEnvelope(m.authVariant(), m.marshal())
}

// UnmarshalAuth decodes an auth body.
//
// Postcondition: Returns an error wrapping ErrMalformedBody for unknown variants
// or invalid field encodings.
func UnmarshalAuth(b []byte) (AuthMessage, error) {
	num, inner, err := unwrapEnvelope(b)
	if err != nil {
		return nil, err
	}
	switch num {
	case 1:
		fields, err := parseFields(inner)
		if err != nil {
			return nil, err
		}
		m := &Login{}
		for _, f := range fields {
			switch f.num {
			case 1:
				if err := expect(f, protowire.BytesType); err != nil {
					return nil, err
				}
				m.Token = string(f.bytes)
			case 2:
				if err := expect(f, protowire.VarintType); err != nil {
					return nil, err
				}
				m.Role = Role(int32(f.varint))
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown auth variant %d", ErrMalformedBody, num)
	}
}
