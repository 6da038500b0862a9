package rooms_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/project-spire/spire-game-server/internal/mailbox"
	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/rooms"
	"github.com/project-spire/spire-game-server/internal/session"
	"github.com/project-spire/spire-game-server/internal/testutil"
)

func TestCounter_CountsWithoutClaiming(t *testing.T) {
	var c rooms.Counter
	ctx := context.Background()
	for _, cat := range []protocol.Category{protocol.CategoryAuth, protocol.CategoryNet, protocol.CategoryNet, protocol.CategoryGame} {
		res := c.Handle(ctx, session.InMessage{Category: cat})
		assert.Equal(t, room.HandledContinue, res)
	}
	assert.Equal(t, uint64(1), c.Count(protocol.CategoryAuth))
	assert.Equal(t, uint64(2), c.Count(protocol.CategoryNet))
	assert.Equal(t, uint64(1), c.Count(protocol.CategoryGame))
	assert.Equal(t, uint64(0), c.Count(protocol.CategoryNone))
	assert.Len(t, c.Fields(), 3)
}

func TestPingHandler_AnswersWithSameNonce(t *testing.T) {
	ps := testutil.NewPipeSession(t, mailbox.New[session.InMessage](4))
	h := rooms.PingHandler(zaptest.NewLogger(t))

	res := h(context.Background(), session.InMessage{
		Session:  ps.Session,
		Category: protocol.CategoryNet,
		Payload:  protocol.MarshalNet(&protocol.Ping{Nonce: 42}),
	})
	require.Equal(t, room.Handled, res)

	got := ps.Client.ReadNet(2 * time.Second)
	assert.Equal(t, &protocol.Pong{Nonce: 42}, got)
}

func TestPingHandler_IgnoresOtherTraffic(t *testing.T) {
	h := rooms.PingHandler(zap.NewNop())
	ctx := context.Background()

	cases := map[string]session.InMessage{
		"auth category": {Category: protocol.CategoryAuth, Payload: protocol.MarshalNet(&protocol.Ping{Nonce: 1})},
		"enter room":    {Category: protocol.CategoryNet, Payload: protocol.MarshalNet(&protocol.EnterRoom{RoomID: 3})},
		"malformed":     {Category: protocol.CategoryNet, Payload: []byte{0xff}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, room.NotMine, h(ctx, m))
		})
	}
}

func TestCloseOnMalformed_ClosesSession(t *testing.T) {
	ps := testutil.NewPipeSession(t, mailbox.New[session.InMessage](4))

	res := rooms.CloseOnMalformed(zaptest.NewLogger(t), session.InMessage{
		Session:  ps.Session,
		Category: protocol.CategoryGame,
	}, errors.New("bad body"))

	assert.Equal(t, room.Handled, res)
	ps.WaitClosed(t, 2*time.Second)
	assert.False(t, ps.Session.IsOpen())
}
