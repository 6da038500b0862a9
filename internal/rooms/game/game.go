// Package game implements the game room: a hosted zone with a periodic
// simulation update and validated player commands.
package game

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/rooms"
	"github.com/project-spire/spire-game-server/internal/scripting"
	"github.com/project-spire/spire-game-server/internal/session"
)

const (
	// RejectedKind is the event kind sent back for a command that was not applied.
	RejectedKind = "rejected"
	// MaxEchoLength bounds the command kind and the reason echoed in a
	// rejection event. Longer text is cut and suffixed with "...".
	MaxEchoLength = 256
)

// Validator decides whether a command may reach the simulation.
type Validator interface {
	Validate(ctx context.Context, cmd scripting.Command) scripting.Verdict
}

// Simulation is the game logic hosted by the room. All methods are called from
// the room goroutine.
type Simulation interface {
	Join(ctx context.Context, p *player.Bundle)
	Leave(ctx context.Context, key player.Key)
	// Apply mutates the simulation. A non-nil error means the command had no
	// effect; its message is returned to the player.
	Apply(ctx context.Context, p *player.Bundle, cmd *protocol.Command) error
	Update(ctx context.Context, dt time.Duration)
}

// Room is the game room behaviour.
type Room struct {
	id        room.ID
	roster    *rooms.Roster
	counter   rooms.Counter
	validator Validator
	sim       Simulation
	tick      time.Duration
	logger    *zap.Logger
}

// New creates a game room behaviour.
//
// Precondition: server, validator, sim and logger must be non-nil; tick > 0.
func New(id room.ID, name string, server dispatch.Sender, validator Validator, sim Simulation, tick time.Duration, logger *zap.Logger) *Room {
	g := &Room{
		id:        id,
		roster:    rooms.NewRoster(id, name, server, logger),
		validator: validator,
		sim:       sim,
		tick:      tick,
		logger:    logger,
	}
	g.roster.OnAdmit = sim.Join
	g.roster.OnDepart = sim.Leave
	return g
}

// Options returns the room options that install the game handlers.
func (g *Room) Options() []room.Option {
	return []room.Option{
		room.WithInboundHandler(g.counter.Handle),
		room.WithInboundHandler(rooms.PingHandler(g.logger)),
		room.WithInboundHandler(g.roster.EnterRoomHandler()),
		room.WithInboundHandler(g.handleCommand),
		room.WithControlHandler(g.roster.HandleControl),
		room.WithTick(g.tick, g.sim.Update),
		room.WithLogger(g.logger),
	}
}

// Roster exposes the hosted players. Only the room goroutine may use it.
func (g *Room) Roster() *rooms.Roster { return g.roster }

// Counter exposes the frame counts.
func (g *Room) Counter() *rooms.Counter { return &g.counter }

func (g *Room) handleCommand(ctx context.Context, m session.InMessage) room.Result {
	if m.Category != protocol.CategoryGame {
		return room.NotMine
	}
	msg, err := protocol.UnmarshalGame(m.Payload)
	if err != nil {
		return rooms.CloseOnMalformed(g.logger, m, err)
	}
	cmd, ok := msg.(*protocol.Command)
	if !ok {
		return room.NotMine
	}
	p, ok := g.roster.Sender(ctx, m)
	if !ok {
		g.logger.Warn("command from unknown session", zap.Stringer("session", m.Session), zap.String("kind", clip(cmd.Kind)))
		return room.Handled
	}

	verdict := g.validator.Validate(ctx, scripting.Command{
		Room:        uint64(g.id),
		Kind:        cmd.Kind,
		Payload:     cmd.Payload,
		AccountID:   p.Account.AccountID,
		CharacterID: p.Account.CharacterID,
		Privilege:   p.Account.Privilege.String(),
	})
	if !verdict.Allowed {
		g.reject(ctx, p, cmd, verdict.Reason)
		return room.Handled
	}
	if err := g.sim.Apply(ctx, p, cmd); err != nil {
		g.reject(ctx, p, cmd, err.Error())
	}
	return room.Handled
}

// reject reports a refused command to its sender. Both the kind and the reason
// may carry peer text, so they are clipped and an encoding failure is dropped.
func (g *Room) reject(ctx context.Context, p *player.Bundle, cmd *protocol.Command, reason string) {
	kind, reason := clip(cmd.Kind), clip(reason)
	logger := g.logger.With(zap.Stringer("player", p.Key()), zap.String("kind", kind))
	logger.Debug("command rejected", zap.String("reason", reason))

	frame, err := protocol.EncodeGame(&protocol.Event{Kind: RejectedKind, Payload: []byte(kind + ": " + reason)})
	if err != nil {
		logger.Warn("dropping rejection event", zap.Error(err))
		return
	}
	p.Session.Send(ctx, frame)
}

func clip(s string) string {
	if len(s) <= MaxEchoLength {
		return s
	}
	// A rune split by the cut leaves invalid trailing bytes; drop them.
	return strings.ToValidUTF8(s[:MaxEchoLength], "") + "..."
}
