// Package station implements the station room, the lobby players land in after
// authentication. It hosts players and moves them on request; it has no
// simulation.
package station

import (
	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/rooms"
)

// Room is the station room behaviour.
type Room struct {
	roster  *rooms.Roster
	counter rooms.Counter
	logger  *zap.Logger
}

// New creates a station room behaviour for room id.
//
// Precondition: server and logger must be non-nil.
func New(id room.ID, name string, server dispatch.Sender, logger *zap.Logger) *Room {
	return &Room{
		roster: rooms.NewRoster(id, name, server, logger),
		logger: logger,
	}
}

// Options returns the room options that install the station handlers.
func (s *Room) Options() []room.Option {
	return []room.Option{
		room.WithInboundHandler(s.counter.Handle),
		room.WithInboundHandler(rooms.PingHandler(s.logger)),
		room.WithInboundHandler(s.roster.EnterRoomHandler()),
		room.WithControlHandler(s.roster.HandleControl),
		room.WithLogger(s.logger),
	}
}

// Roster exposes the hosted players. Only the room goroutine may use it.
func (s *Room) Roster() *rooms.Roster { return s.roster }

// Counter exposes the frame counts.
func (s *Room) Counter() *rooms.Counter { return &s.counter }
