package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/protocol"
)

// WorldTime is the default Simulation. It keeps world time and the set of
// present characters; it defines no gameplay and rejects every command.
type WorldTime struct {
	Elapsed time.Duration
	LastDT  time.Duration
	Ticks   uint64
	Present map[player.Key]string

	logger *zap.Logger
}

// NewWorldTime creates an empty world clock.
func NewWorldTime(logger *zap.Logger) *WorldTime {
	return &WorldTime{Present: make(map[player.Key]string), logger: logger}
}

// Join records p as present.
func (w *WorldTime) Join(_ context.Context, p *player.Bundle) {
	w.Present[p.Key()] = p.Character.Name
}

// Leave forgets key.
func (w *WorldTime) Leave(_ context.Context, key player.Key) {
	delete(w.Present, key)
}

// Apply rejects cmd: no command kinds are defined.
func (w *WorldTime) Apply(_ context.Context, _ *player.Bundle, cmd *protocol.Command) error {
	return fmt.Errorf("unknown command %q", cmd.Kind)
}

// Update advances world time by dt.
func (w *WorldTime) Update(_ context.Context, dt time.Duration) {
	w.Elapsed += dt
	w.LastDT = dt
	w.Ticks++
	if w.Ticks%600 == 0 {
		w.logger.Debug("world time", zap.Duration("elapsed", w.Elapsed), zap.Int("present", len(w.Present)))
	}
}
