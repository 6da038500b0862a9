package postgres

import (
	"context"

	"github.com/project-spire/spire-game-server/internal/presence"
)

// LastRoomRecorder persists the room a character was admitted to. It is a
// presence.Store so the dispatcher can feed it alongside Redis.
type LastRoomRecorder struct {
	chars *CharacterRepository
}

// NewLastRoomRecorder creates a recorder writing through chars.
func NewLastRoomRecorder(chars *CharacterRepository) *LastRoomRecorder {
	return &LastRoomRecorder{chars: chars}
}

// Online saves e.Room as the character's last room. Characterless sessions are
// skipped.
func (r *LastRoomRecorder) Online(ctx context.Context, e presence.Entry) error {
	if e.CharacterID == 0 {
		return nil
	}
	return r.chars.SaveLastRoom(ctx, e.CharacterID, e.Room)
}

// Offline keeps the last room.
func (r *LastRoomRecorder) Offline(context.Context, uint64, uint64) error { return nil }
