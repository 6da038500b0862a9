// Package rooms holds handlers shared by every room type.
package rooms

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/session"
)

// Counter counts inbound frames per category. It never claims a message.
type Counter struct {
	auth, net, game atomic.Uint64
}

// Handle implements room.InboundHandler.
func (c *Counter) Handle(_ context.Context, m session.InMessage) room.Result {
	switch m.Category {
	case protocol.CategoryAuth:
		c.auth.Add(1)
	case protocol.CategoryNet:
		c.net.Add(1)
	case protocol.CategoryGame:
		c.game.Add(1)
	}
	return room.HandledContinue
}

// Count returns the number of frames seen for c.
func (c *Counter) Count(cat protocol.Category) uint64 {
	switch cat {
	case protocol.CategoryAuth:
		return c.auth.Load()
	case protocol.CategoryNet:
		return c.net.Load()
	case protocol.CategoryGame:
		return c.game.Load()
	default:
		return 0
	}
}

// Fields returns the counts as log fields.
func (c *Counter) Fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("auth_frames", c.auth.Load()),
		zap.Uint64("net_frames", c.net.Load()),
		zap.Uint64("game_frames", c.game.Load()),
	}
}

// PingHandler answers Net Ping frames with a Pong carrying the same nonce. Any
// other Net message is left for later handlers.
func PingHandler(logger *zap.Logger) room.InboundHandler {
	return func(ctx context.Context, m session.InMessage) room.Result {
		if m.Category != protocol.CategoryNet {
			return room.NotMine
		}
		msg, err := protocol.UnmarshalNet(m.Payload)
		if err != nil {
			// Leave decode failures to the room's own net handler.
			return room.NotMine
		}
		ping, ok := msg.(*protocol.Ping)
		if !ok {
			return room.NotMine
		}
		if !m.Session.Send(ctx, protocol.NetFrame(&protocol.Pong{Nonce: ping.Nonce})) {
			logger.Debug("pong dropped for closed session", zap.Stringer("session", m.Session))
		}
		return room.Handled
	}
}

// CloseOnMalformed closes the session when a frame body cannot be decoded,
// which is fatal to the session.
func CloseOnMalformed(logger *zap.Logger, m session.InMessage, err error) room.Result {
	logger.Info("closing session after malformed frame",
		zap.Stringer("session", m.Session),
		zap.Stringer("category", m.Category),
		zap.Error(err),
	)
	m.Session.Close()
	return room.Handled
}
