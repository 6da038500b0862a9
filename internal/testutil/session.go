package testutil

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/session"
)

// SessionConfig returns small queue sizes suitable for tests. There is no
// write timeout, so a test that never reads does not close its session.
func SessionConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxFrameSize:  64 * 1024,
		OutboundQueue: 16,
		CommandQueue:  4,
	}
}

// PipeSession is a served session over an in-memory pipe.
type PipeSession struct {
	Session *session.Context
	Client  *FrameClient
	Result  <-chan error
}

// NewPipeSession serves a session whose inbound frames go to inbox.
//
// Postcondition: The session is running; it is shut down and fully exited
// when the test ends.
func NewPipeSession(t *testing.T, inbox *session.Inbox) *PipeSession {
	t.Helper()
	return NewPipeSessionWithConfig(t, inbox, SessionConfig())
}

// NewPipeSessionWithConfig is NewPipeSession with explicit session limits.
func NewPipeSessionWithConfig(t *testing.T, inbox *session.Inbox, cfg config.SessionConfig) *PipeSession {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	s := session.New(serverConn, inbox, cfg, zaptest.NewLogger(t))
	result := make(chan error, 1)
	go func() { result <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		clientConn.Close()
		<-s.Done()
	})
	return &PipeSession{Session: s, Client: NewFrameClient(t, clientConn), Result: result}
}

// WaitClosed blocks until the session has terminated or fails the test.
func (p *PipeSession) WaitClosed(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Session.Done():
	case <-time.After(timeout):
		t.Fatalf("session %s still open after %s", p.Session, timeout)
	}
}
