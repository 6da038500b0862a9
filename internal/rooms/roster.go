package rooms

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/session"
)

// Roster tracks the players a room hosts. It is owned by the room goroutine
// and is not safe for concurrent use.
type Roster struct {
	id      room.ID
	name    string
	server  dispatch.Sender
	logger  *zap.Logger
	players map[player.Key]*player.Bundle

	// OnAdmit and OnDepart, when set, observe roster changes.
	OnAdmit  func(ctx context.Context, b *player.Bundle)
	OnDepart func(ctx context.Context, key player.Key)
}

// NewRoster creates an empty roster for room id.
//
// Precondition: server and logger must be non-nil.
func NewRoster(id room.ID, name string, server dispatch.Sender, logger *zap.Logger) *Roster {
	return &Roster{
		id:      id,
		name:    name,
		server:  server,
		logger:  logger,
		players: make(map[player.Key]*player.Bundle),
	}
}

// Len returns the number of players, including any whose session has closed
// but has not been pruned yet.
func (r *Roster) Len() int { return len(r.players) }

// Lookup returns the bundle for key. A player whose session has closed is
// pruned and reported absent.
func (r *Roster) Lookup(ctx context.Context, key player.Key) (*player.Bundle, bool) {
	b, ok := r.players[key]
	if !ok {
		return nil, false
	}
	if !b.Session.IsOpen() {
		r.remove(ctx, key, "session closed")
		return nil, false
	}
	return b, true
}

// Sender returns the bundle for the session that sent m, if it is hosted here.
func (r *Roster) Sender(ctx context.Context, m session.InMessage) (*player.Bundle, bool) {
	account, ok := m.Session.Account()
	if !ok {
		return nil, false
	}
	b, ok := r.Lookup(ctx, player.KeyOf(account))
	if !ok || b.Session != m.Session {
		return nil, false
	}
	return b, true
}

// Each calls fn for every player with an open session, pruning the rest.
func (r *Roster) Each(ctx context.Context, fn func(*player.Bundle)) {
	for key, b := range r.players {
		if !b.Session.IsOpen() {
			r.remove(ctx, key, "session closed")
			continue
		}
		fn(b)
	}
}

// SendAll queues frame on every open session.
func (r *Roster) SendAll(ctx context.Context, frame []byte) int {
	sent := 0
	r.Each(ctx, func(b *player.Bundle) {
		if b.Session.Send(ctx, frame) {
			sent++
		}
	})
	return sent
}

// HandleControl implements room.ControlHandler for the roster messages.
func (r *Roster) HandleControl(ctx context.Context, m room.Message) room.Result {
	switch m := m.(type) {
	case room.TransferCommit:
		r.admit(ctx, m.Player)
		return room.Handled
	case room.PlayerDeparted:
		if _, ok := r.players[m.Player]; ok {
			r.remove(ctx, m.Player, "departed")
		}
		return room.Handled
	case room.Broadcast:
		n := r.SendAll(ctx, m.Frame)
		r.logger.Debug("broadcast", zap.Int("recipients", n), zap.Int("size", len(m.Frame)))
		return room.Handled
	default:
		return room.NotMine
	}
}

func (r *Roster) admit(ctx context.Context, b *player.Bundle) {
	key := b.Key()
	logger := r.logger.With(zap.Stringer("player", key), zap.Stringer("session", b.Session))
	if !b.Session.IsOpen() {
		logger.Debug("transferred player already disconnected")
		return
	}
	if prev, ok := r.players[key]; ok && prev.Session != b.Session {
		logger.Debug("replacing stale roster entry", zap.Stringer("previous", prev.Session))
	}
	r.players[key] = b

	frame := protocol.NetFrame(&protocol.RoomEntered{RoomID: uint64(r.id), Name: r.name})
	if !b.Session.Send(ctx, frame) {
		logger.Debug("room entered notice dropped")
	}
	if err := r.server.Send(ctx, dispatch.RoomTransferCommit{Player: b, Room: r.id}); err != nil {
		logger.Warn("transfer commit not delivered", zap.Error(err))
	}
	if r.OnAdmit != nil {
		r.OnAdmit(ctx, b)
	}
	logger.Info("player admitted", zap.String("character", b.Character.Name), zap.Int("players", len(r.players)))
}

func (r *Roster) remove(ctx context.Context, key player.Key, reason string) {
	delete(r.players, key)
	if r.OnDepart != nil {
		r.OnDepart(ctx, key)
	}
	r.logger.Info("player removed", zap.Stringer("player", key), zap.String("reason", reason))
}

// EnterRoomHandler returns an inbound handler that turns Net EnterRoom requests
// from hosted players into transfer requests. A malformed net body closes the
// session.
func (r *Roster) EnterRoomHandler() room.InboundHandler {
	return func(ctx context.Context, m session.InMessage) room.Result {
		if m.Category != protocol.CategoryNet {
			return room.NotMine
		}
		msg, err := protocol.UnmarshalNet(m.Payload)
		if err != nil {
			return CloseOnMalformed(r.logger, m, err)
		}
		enter, ok := msg.(*protocol.EnterRoom)
		if !ok {
			return room.NotMine
		}
		b, ok := r.Sender(ctx, m)
		if !ok {
			r.logger.Warn("enter room from unknown session", zap.Stringer("session", m.Session))
			return room.Handled
		}
		target := room.ID(enter.RoomID)
		if err := r.server.Send(ctx, dispatch.RoomTransferBegin{Player: b, Target: target}); err != nil {
			r.logger.Warn("transfer request not delivered",
				zap.Stringer("player", b.Key()),
				zap.Uint64("target", uint64(target)),
				zap.Error(err),
			)
		}
		return room.Handled
	}
}

// String implements fmt.Stringer.
func (r *Roster) String() string {
	return fmt.Sprintf("%s(%d): %d players", r.name, r.id, len(r.players))
}
