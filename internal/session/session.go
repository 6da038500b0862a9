// Package session owns one client connection: a receive loop that forwards
// frames to the currently targeted room, a send loop that writes queued
// frames, and a supervisor that tears both down exactly once.
package session

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/mailbox"
	"github.com/project-spire/spire-game-server/internal/protocol"
)

// ErrAlreadyAuthenticated is returned by SetAccount when an account is already attached.
var ErrAlreadyAuthenticated = errors.New("session already authenticated")

// InMessage is one inbound frame together with the session it arrived on.
type InMessage struct {
	Session  *Context
	Category protocol.Category
	Payload  []byte
}

// Inbox is the mailbox type a room receives session traffic on.
type Inbox = mailbox.Mailbox[InMessage]

// Command is a lifecycle instruction processed by the session supervisor.
type Command interface {
	isCommand()
}

// CloseCommand asks the session to shut down.
type CloseCommand struct{}

// RetargetCommand swaps the mailbox inbound frames are forwarded to.
type RetargetCommand struct {
	Inbound *Inbox
}

func (CloseCommand) isCommand()    {}
func (RetargetCommand) isCommand() {}

// Context is the shared handle to one connection. Rooms and the dispatcher hold
// a *Context to address the session; all mutation goes through its command queue
// except the liveness flag and the one-shot account slot, which are atomic.
type Context struct {
	ID       uuid.UUID
	PeerAddr string

	conn   net.Conn
	cfg    config.SessionConfig
	logger *zap.Logger

	open     atomic.Bool
	inbound  atomic.Pointer[Inbox]
	account  atomic.Pointer[Account]
	outbound chan []byte
	commands chan Command
	done     chan struct{}
}

// New wraps conn in a session whose inbound frames initially go to initial.
//
// Precondition: conn and initial must be non-nil; cfg must pass validation.
// Postcondition: The session is open but no loops run until Serve is called.
func New(conn net.Conn, initial *Inbox, cfg config.SessionConfig, logger *zap.Logger) *Context {
	s := &Context{
		ID:       uuid.New(),
		PeerAddr: conn.RemoteAddr().String(),
		conn:     conn,
		cfg:      cfg,
		outbound: make(chan []byte, cfg.OutboundQueue),
		commands: make(chan Command, cfg.CommandQueue),
		done:     make(chan struct{}),
	}
	s.logger = logger.With(zap.Stringer("session", s.ID), zap.String("peer", s.PeerAddr))
	s.open.Store(true)
	s.inbound.Store(initial)
	return s
}

// String returns the session id.
func (s *Context) String() string { return s.ID.String() }

// IsOpen reports whether the session has not yet terminated.
func (s *Context) IsOpen() bool { return s.open.Load() }

// Done is closed once both I/O loops have exited and the session is closed.
func (s *Context) Done() <-chan struct{} { return s.done }

// Inbound returns the mailbox inbound frames are currently forwarded to.
func (s *Context) Inbound() *Inbox { return s.inbound.Load() }

// Account returns the attached account, if any.
func (s *Context) Account() (Account, bool) {
	a := s.account.Load()
	if a == nil {
		return Account{}, false
	}
	return *a, true
}

// SetAccount attaches a to the session.
//
// Postcondition: Succeeds at most once per session; later calls return
// ErrAlreadyAuthenticated and leave the first account in place.
func (s *Context) SetAccount(a Account) error {
	if !s.account.CompareAndSwap(nil, &a) {
		return ErrAlreadyAuthenticated
	}
	return nil
}

// Send queues a complete encoded frame for the send loop.
//
// Postcondition: Returns false without queuing when the session is closed or
// closes while waiting, or when ctx ends. Never blocks past session termination.
func (s *Context) Send(ctx context.Context, frame []byte) bool {
	if !s.open.Load() {
		return false
	}
	select {
	case s.outbound <- frame:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close asks the session to shut down. Closing a closed session is a no-op.
func (s *Context) Close() bool {
	return s.command(context.Background(), CloseCommand{})
}

// Retarget asks the session to forward subsequent inbound frames to inbox.
//
// Postcondition: Returns false when the session is closed; the target is then
// irrelevant since no further frames will be read.
func (s *Context) Retarget(ctx context.Context, inbox *Inbox) bool {
	return s.command(ctx, RetargetCommand{Inbound: inbox})
}

func (s *Context) command(ctx context.Context, cmd Command) bool {
	if !s.open.Load() {
		return false
	}
	select {
	case s.commands <- cmd:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// markClosed flips the open flag. Only the first caller observes true.
func (s *Context) markClosed() bool {
	return s.open.CompareAndSwap(true, false)
}
