package testutil

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/project-spire/spire-game-server/internal/protocol"
)

// FrameClient is a wire-protocol test client for the client end of a
// connection.
type FrameClient struct {
	conn net.Conn
	t    *testing.T
}

// NewFrameClient wraps an established connection.
//
// Postcondition: conn is closed when the test ends.
func NewFrameClient(t *testing.T, conn net.Conn) *FrameClient {
	t.Helper()
	t.Cleanup(func() { conn.Close() })
	return &FrameClient{conn: conn, t: t}
}

// DialFrameClient dials addr over TCP.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected client or fails the test.
func DialFrameClient(t *testing.T, addr string) *FrameClient {
	t.Helper()
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	return NewFrameClient(t, conn)
}

// Conn returns the underlying connection.
func (c *FrameClient) Conn() net.Conn { return c.conn }

// Write sends one frame with the given category and body.
func (c *FrameClient) Write(cat protocol.Category, body []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(protocol.MustEncode(cat, body)); err != nil {
		c.t.Fatalf("writing %s frame: %v", cat, err)
	}
}

// WriteAuth sends an auth message.
func (c *FrameClient) WriteAuth(m protocol.AuthMessage) {
	c.t.Helper()
	c.Write(protocol.CategoryAuth, protocol.MarshalAuth(m))
}

// WriteNet sends a net message.
func (c *FrameClient) WriteNet(m protocol.NetMessage) {
	c.t.Helper()
	c.Write(protocol.CategoryNet, protocol.MarshalNet(m))
}

// WriteGame sends a game message.
func (c *FrameClient) WriteGame(m protocol.GameMessage) {
	c.t.Helper()
	c.Write(protocol.CategoryGame, protocol.MarshalGame(m))
}

// ReadFrame reads one frame or fails the test after timeout.
func (c *FrameClient) ReadFrame(timeout time.Duration) protocol.Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	f, err := protocol.ReadFrame(c.conn, protocol.MaxBodyLength)
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return f
}

// ReadNet reads one frame and decodes it as a net message.
func (c *FrameClient) ReadNet(timeout time.Duration) protocol.NetMessage {
	c.t.Helper()
	f := c.ReadFrame(timeout)
	if f.Category != protocol.CategoryNet {
		c.t.Fatalf("expected net frame, got %s", f.Category)
	}
	m, err := protocol.UnmarshalNet(f.Payload)
	if err != nil {
		c.t.Fatalf("decoding net frame: %v", err)
	}
	return m
}

// ReadGame reads one frame and decodes it as a game message.
func (c *FrameClient) ReadGame(timeout time.Duration) protocol.GameMessage {
	c.t.Helper()
	f := c.ReadFrame(timeout)
	if f.Category != protocol.CategoryGame {
		c.t.Fatalf("expected game frame, got %s", f.Category)
	}
	m, err := protocol.UnmarshalGame(f.Payload)
	if err != nil {
		c.t.Fatalf("decoding game frame: %v", err)
	}
	return m
}

// ExpectClosed reads until the server closes the connection, discarding any
// frames still in flight.
func (c *FrameClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, err := protocol.ReadFrame(c.conn, protocol.MaxBodyLength)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			c.t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}

// ExpectSilence fails the test if a frame arrives within d.
func (c *FrameClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	f, err := protocol.ReadFrame(c.conn, protocol.MaxBodyLength)
	if err == nil {
		c.t.Fatalf("unexpected %s frame (%d bytes)", f.Category, len(f.Payload))
	}
}

// Close closes the client end.
func (c *FrameClient) Close() {
	c.conn.Close()
}
