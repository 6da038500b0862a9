// Package room implements the generic room actor: a goroutine that owns an
// inbound mailbox of session traffic, a control mailbox of server messages,
// and an optional periodic update.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/mailbox"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/session"
)

// ID identifies a room within one server.
type ID uint64

// Result is a handler's verdict on one message.
type Result int

const (
	// NotMine passes the message to the next handler.
	NotMine Result = iota
	// Handled ends dispatch for the message.
	Handled
	// HandledContinue observes the message without owning it; dispatch continues
	// and a message seen only by HandledContinue handlers counts as unhandled.
	HandledContinue
)

// Message is a control message delivered to a room. It is a closed union over
// Broadcast, TransferCommit and PlayerDeparted.
type Message interface {
	isRoomMessage()
}

// Broadcast asks the room to send an encoded frame to every player it hosts.
type Broadcast struct {
	Frame []byte
}

// TransferCommit hands a player to the room. The session has already been, or
// is about to be, retargeted at the room's inbound mailbox.
type TransferCommit struct {
	Player *player.Bundle
}

// PlayerDeparted tells the room a player it hosted has moved elsewhere.
type PlayerDeparted struct {
	Player player.Key
}

func (Broadcast) isRoomMessage()      {}
func (TransferCommit) isRoomMessage() {}
func (PlayerDeparted) isRoomMessage() {}

// InboundHandler is offered session traffic in registration order.
type InboundHandler func(ctx context.Context, msg session.InMessage) Result

// ControlHandler is offered control messages in registration order.
type ControlHandler func(ctx context.Context, msg Message) Result

// UpdateFunc advances room state by the wall-clock time elapsed since the
// previous update.
type UpdateFunc func(ctx context.Context, dt time.Duration)

// Handle is the externally visible surface of a room.
type Handle struct {
	ID      ID
	Name    string
	Inbound *session.Inbox
	Control *mailbox.Mailbox[Message]
}

// Alive reports whether the room is still consuming its mailboxes.
func (h Handle) Alive() bool {
	return h.Inbound != nil && !h.Inbound.Closed() && !h.Control.Closed()
}

// ErrNoInboundHandlers is returned by New when a room could never claim traffic.
var ErrNoInboundHandlers = errors.New("room has no inbound handlers")

// Option configures a Room.
type Option func(*options)

type options struct {
	inbound         []InboundHandler
	control         []ControlHandler
	inboundCapacity int
	controlCapacity int
	tick            time.Duration
	update          UpdateFunc
	logger          *zap.Logger
}

// WithInboundHandler appends an inbound handler.
func WithInboundHandler(h InboundHandler) Option {
	return func(o *options) { o.inbound = append(o.inbound, h) }
}

// WithControlHandler appends a control handler.
func WithControlHandler(h ControlHandler) Option {
	return func(o *options) { o.control = append(o.control, h) }
}

// WithInboundCapacity sets the inbound mailbox capacity.
func WithInboundCapacity(n int) Option {
	return func(o *options) { o.inboundCapacity = n }
}

// WithControlCapacity sets the control mailbox capacity.
func WithControlCapacity(n int) Option {
	return func(o *options) { o.controlCapacity = n }
}

// WithTick runs update every interval.
func WithTick(interval time.Duration, update UpdateFunc) Option {
	return func(o *options) {
		o.tick = interval
		o.update = update
	}
}

// WithLogger sets the room logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Room is one room actor.
type Room struct {
	id     ID
	name   string
	opts   options
	logger *zap.Logger

	inbound *session.Inbox
	control *mailbox.Mailbox[Message]
	ctlBuf  []Message

	unhandled atomic.Uint64
}

// New builds a room. It does not start running until Run is called.
//
// Precondition: At least one inbound handler; capacities and tick interval, when
// set, are positive.
// Postcondition: Returns a Room whose Handle is usable immediately, or an error.
func New(id ID, name string, opts ...Option) (*Room, error) {
	o := options{
		inboundCapacity: 256,
		controlCapacity: 64,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.inbound) == 0 {
		return nil, fmt.Errorf("room %d (%s): %w", id, name, ErrNoInboundHandlers)
	}
	if o.inboundCapacity <= 0 || o.controlCapacity <= 0 {
		return nil, fmt.Errorf("room %d (%s): mailbox capacities must be positive", id, name)
	}
	if o.update != nil && o.tick <= 0 {
		return nil, fmt.Errorf("room %d (%s): tick interval must be positive", id, name)
	}

	return &Room{
		id:      id,
		name:    name,
		opts:    o,
		logger:  o.logger.With(zap.Uint64("room", uint64(id)), zap.String("room_name", name)),
		inbound: mailbox.New[session.InMessage](o.inboundCapacity),
		control: mailbox.New[Message](o.controlCapacity),
	}, nil
}

// ID returns the room id.
func (r *Room) ID() ID { return r.id }

// Handle returns the room's mailbox handle.
func (r *Room) Handle() Handle {
	return Handle{ID: r.id, Name: r.name, Inbound: r.inbound, Control: r.control}
}

// Unhandled returns the number of messages no handler claimed.
func (r *Room) Unhandled() uint64 { return r.unhandled.Load() }

// Run processes messages until ctx is cancelled. Room death is terminal: on
// return both mailboxes are closed so producers observe mailbox.ErrClosed.
//
// Postcondition: Returns nil after shutdown.
func (r *Room) Run(ctx context.Context) error {
	defer r.control.Close()
	defer r.inbound.Close()

	var tick <-chan time.Time
	if r.opts.update != nil {
		ticker := time.NewTicker(r.opts.tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.logger.Info("room started")
	defer r.logger.Info("room stopped", zap.Uint64("unhandled", r.unhandled.Load()))

	last := time.Now()
	inBuf := make([]session.InMessage, 0, r.inbound.Cap())
	r.ctlBuf = make([]Message, 0, r.control.Cap())
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.inbound.Receive():
			r.pumpControl(ctx)
			r.dispatchInbound(ctx, msg)
		case msg := <-r.control.Receive():
			r.dispatchControl(ctx, msg)
		case now := <-tick:
			dt := now.Sub(last)
			last = now
			r.opts.update(ctx, dt)
			continue
		}

		// Drain whatever else is queued, bounded by capacity so a busy inbound
		// mailbox cannot starve the control mailbox or the tick.
		r.pumpControl(ctx)
		inBuf = r.inbound.Drain(inBuf[:0], r.inbound.Cap())
		for _, msg := range inBuf {
			r.pumpControl(ctx)
			r.dispatchInbound(ctx, msg)
		}
		clear(inBuf)
	}
}

// pumpControl handles every control message already queued. It runs before
// each inbound message: a TransferCommit is always enqueued before the session
// is retargeted, so the room admits a player before seeing its first frame.
func (r *Room) pumpControl(ctx context.Context) {
	r.ctlBuf = r.control.Drain(r.ctlBuf[:0], r.control.Cap())
	for _, msg := range r.ctlBuf {
		r.dispatchControl(ctx, msg)
	}
	clear(r.ctlBuf)
}

func (r *Room) dispatchInbound(ctx context.Context, msg session.InMessage) {
	for _, h := range r.opts.inbound {
		if h(ctx, msg) == Handled {
			return
		}
	}
	r.unhandled.Add(1)
	r.logger.Warn("unhandled inbound message",
		zap.Stringer("session", msg.Session),
		zap.Stringer("category", msg.Category),
		zap.Int("size", len(msg.Payload)),
	)
}

func (r *Room) dispatchControl(ctx context.Context, msg Message) {
	for _, h := range r.opts.control {
		if h(ctx, msg) == Handled {
			return
		}
	}
	r.unhandled.Add(1)
	r.logger.Warn("unhandled room message", zap.String("type", fmt.Sprintf("%T", msg)))
}
