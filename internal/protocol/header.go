// Package protocol implements the Spire wire format: a fixed four byte frame
// header followed by a category specific body.
package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Category identifies which protocol family a frame body belongs to.
type Category uint8

const (
	// CategoryNone is never valid on the wire.
	CategoryNone Category = iota
	CategoryAuth
	CategoryNet
	CategoryGame
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "Auth"
	case CategoryNet:
		return "Net"
	case CategoryGame:
		return "Game"
	default:
		return "None"
	}
}

// Valid reports whether c is a category that may appear on the wire.
func (c Category) Valid() bool {
	return c == CategoryAuth || c == CategoryNet || c == CategoryGame
}

const (
	// HeaderSize is the encoded header length in bytes.
	HeaderSize = 4
	// MaxBodyLength is the largest body length a header can carry (24 bits).
	MaxBodyLength = 1<<24 - 1
)

var (
	// ErrInvalidCategory is returned when a header carries an unknown category tag.
	ErrInvalidCategory = errors.New("invalid frame category")
	// ErrFrameTooLarge is returned when a body length exceeds the permitted maximum.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Header is the decoded form of a frame header.
type Header struct {
	Category Category
	Length   uint32
}

// DecodeHeader parses a header. Byte 0 is the category tag and bytes 1-3 hold the
// body length as a big-endian 24 bit integer.
//
// Postcondition: Category is CategoryNone when the tag is unknown. No allocation.
func DecodeHeader(b [HeaderSize]byte) Header {
	c := Category(b[0])
	if !c.Valid() {
		c = CategoryNone
	}
	return Header{
		Category: c,
		Length:   uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
	}
}

// Encode returns the wire form of h.
//
// Precondition: h.Length <= MaxBodyLength.
func (h Header) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[0] = byte(h.Category)
	b[1] = byte(h.Length >> 16)
	b[2] = byte(h.Length >> 8)
	b[3] = byte(h.Length)
	return b
}

// Frame is one complete wire unit.
type Frame struct {
	Category Category
	Payload  []byte
}

// Encode serialises a frame into a single buffer, header first, so it can be
// written with one call.
//
// Postcondition: Returns ErrInvalidCategory for CategoryNone and ErrFrameTooLarge
// when the payload does not fit the header.
func Encode(c Category, payload []byte) ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("encoding frame: %w: %d", ErrInvalidCategory, c)
	}
	if len(payload) > MaxBodyLength {
		return nil, fmt.Errorf("encoding frame: %w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	h := Header{Category: c, Length: uint32(len(payload))}.Encode()
	out := make([]byte, HeaderSize+len(payload))
	copy(out, h[:])
	copy(out[HeaderSize:], payload)
	return out, nil
}

// MustEncode is Encode for payloads built by the server itself.
func MustEncode(c Category, payload []byte) []byte {
	out, err := Encode(c, payload)
	if err != nil {
		panic(err)
	}
	return out
}

// ReadFrame reads one frame from r. The body length is checked against maxBody
// before any buffer is allocated.
//
// Postcondition: Returns io.EOF when r ends cleanly on a frame boundary,
// io.ErrUnexpectedEOF when it ends inside a frame, ErrInvalidCategory without
// reading the body when the tag is unknown, and ErrFrameTooLarge when the
// declared length exceeds maxBody.
func ReadFrame(r io.Reader, maxBody uint32) (Frame, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Frame{}, err
	}

	h := DecodeHeader(hb)
	if h.Category == CategoryNone {
		return Frame{}, fmt.Errorf("reading frame: %w: tag %d", ErrInvalidCategory, hb[0])
	}
	if h.Length > maxBody {
		return Frame{}, fmt.Errorf("reading frame: %w: %d > %d", ErrFrameTooLarge, h.Length, maxBody)
	}

	body := make([]byte, h.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Category: h.Category, Payload: body}, nil
}
