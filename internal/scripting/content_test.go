package scripting_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-spire/spire-game-server/internal/scripting"
)

// The shipped arena scripts must load under their catalog limit and gate
// commands as documented.
func TestArenaScripts(t *testing.T) {
	m, logs := newTestManager(t)
	require.NoError(t, m.LoadRoom(context.Background(), 3, "../../content/scripts/arena", 50000))
	ctx := context.Background()

	cmd := func(kind string, payload int, character uint64, privilege string) scripting.Command {
		return scripting.Command{
			Room:        3,
			Kind:        kind,
			Payload:     []byte(strings.Repeat("x", payload)),
			AccountID:   7,
			CharacterID: character,
			Privilege:   privilege,
		}
	}

	assert.Equal(t, scripting.Allow, m.Validate(ctx, cmd("move", 10, 70, "Player")))
	assert.Equal(t, "payload too large", m.Validate(ctx, cmd("move", 65, 70, "Player")).Reason)
	assert.True(t, m.Validate(ctx, cmd("chat", 200, 70, "Player")).Allowed)
	assert.False(t, m.Validate(ctx, cmd("emote", 1025, 70, "Player")).Allowed)
	assert.Equal(t, "no character", m.Validate(ctx, cmd("move", 1, 0, "Player")).Reason)
	assert.True(t, m.Validate(ctx, cmd("move", 1, 0, "Admin")).Allowed)

	assert.False(t, m.Validate(ctx, cmd("debug.spawn", 0, 70, "Player")).Allowed)
	assert.Equal(t, 1, logs.FilterMessageSnippet("debug command refused").Len())
	assert.True(t, m.Validate(ctx, cmd("debug.spawn", 0, 70, "CheatPlayer")).Allowed)
}
