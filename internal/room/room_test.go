package room_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/project-spire/spire-game-server/internal/mailbox"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/session"
)

func runRoom(t *testing.T, r *room.Room) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func msg(c protocol.Category, body string) session.InMessage {
	return session.InMessage{Category: c, Payload: []byte(body)}
}

func TestNew_RequiresInboundHandler(t *testing.T) {
	_, err := room.New(1, "empty")
	assert.ErrorIs(t, err, room.ErrNoInboundHandlers)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	noop := func(context.Context, session.InMessage) room.Result { return room.Handled }
	_, err := room.New(1, "r", room.WithInboundHandler(noop), room.WithInboundCapacity(0))
	assert.Error(t, err)
	_, err = room.New(1, "r", room.WithInboundHandler(noop), room.WithTick(0, func(context.Context, time.Duration) {}))
	assert.Error(t, err)
}

func TestRoom_HandlerChain(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(name string, res func(session.InMessage) room.Result) room.InboundHandler {
		return func(_ context.Context, m session.InMessage) room.Result {
			mu.Lock()
			calls = append(calls, name+":"+string(m.Payload))
			mu.Unlock()
			return res(m)
		}
	}

	observe := record("observe", func(session.InMessage) room.Result { return room.HandledContinue })
	auth := record("auth", func(m session.InMessage) room.Result {
		if m.Category == protocol.CategoryAuth {
			return room.Handled
		}
		return room.NotMine
	})
	fallback := record("net", func(m session.InMessage) room.Result {
		if m.Category == protocol.CategoryNet {
			return room.Handled
		}
		return room.NotMine
	})

	r, err := room.New(1, "chain",
		room.WithInboundHandler(observe),
		room.WithInboundHandler(auth),
		room.WithInboundHandler(fallback),
		room.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	runRoom(t, r)

	ctx := context.Background()
	require.NoError(t, r.Handle().Inbound.Send(ctx, msg(protocol.CategoryAuth, "a")))
	require.NoError(t, r.Handle().Inbound.Send(ctx, msg(protocol.CategoryNet, "n")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"observe:a", "auth:a",
		"observe:n", "auth:n", "net:n",
	}, calls)
	assert.Equal(t, uint64(0), r.Unhandled())
}

func TestRoom_UnhandledIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	counter := func(context.Context, session.InMessage) room.Result { return room.HandledContinue }
	r, err := room.New(3, "auth",
		room.WithInboundHandler(counter),
		room.WithLogger(zap.New(core)),
	)
	require.NoError(t, err)
	runRoom(t, r)

	require.NoError(t, r.Handle().Inbound.Send(context.Background(), msg(protocol.CategoryGame, "x")))
	require.NoError(t, r.Handle().Control.Send(context.Background(), room.PlayerDeparted{Player: player.Key{AccountID: 1, CharacterID: 1}}))

	require.Eventually(t, func() bool { return r.Unhandled() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("unhandled inbound message").Len())
	assert.Equal(t, 1, logs.FilterMessage("unhandled room message").Len())

	entry := logs.FilterMessage("unhandled inbound message").All()[0]
	assert.Equal(t, "Game", entry.ContextMap()["category"])
}

func TestRoom_ControlHandlers(t *testing.T) {
	got := make(chan room.Message, 4)
	r, err := room.New(1, "ctl",
		room.WithInboundHandler(func(context.Context, session.InMessage) room.Result { return room.NotMine }),
		room.WithControlHandler(func(_ context.Context, m room.Message) room.Result {
			got <- m
			return room.Handled
		}),
	)
	require.NoError(t, err)
	runRoom(t, r)

	require.NoError(t, r.Handle().Control.Send(context.Background(), room.Broadcast{Frame: []byte("hi")}))
	select {
	case m := <-got:
		assert.Equal(t, room.Broadcast{Frame: []byte("hi")}, m)
	case <-time.After(time.Second):
		t.Fatal("control message not dispatched")
	}
}

func TestRoom_TickReportsElapsedTime(t *testing.T) {
	var ticks atomic.Int32
	var total atomic.Int64
	r, err := room.New(1, "ticking",
		room.WithInboundHandler(func(context.Context, session.InMessage) room.Result { return room.NotMine }),
		room.WithTick(10*time.Millisecond, func(_ context.Context, dt time.Duration) {
			ticks.Add(1)
			total.Add(int64(dt))
		}),
	)
	require.NoError(t, err)
	runRoom(t, r)

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	n := ticks.Load()
	avg := time.Duration(total.Load() / int64(n))
	assert.GreaterOrEqual(t, avg, 5*time.Millisecond)
}

func TestRoom_ShutdownClosesMailboxes(t *testing.T) {
	r, err := room.New(1, "doomed",
		room.WithInboundHandler(func(context.Context, session.InMessage) room.Result { return room.Handled }),
	)
	require.NoError(t, err)
	h := r.Handle()
	cancel, done := runRoom(t, r)
	assert.True(t, h.Alive())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("room did not stop")
	}

	assert.False(t, h.Alive())
	assert.ErrorIs(t, h.Inbound.Send(context.Background(), msg(protocol.CategoryNet, "late")), mailbox.ErrClosed)
	assert.ErrorIs(t, h.Control.Send(context.Background(), room.PlayerDeparted{}), mailbox.ErrClosed)
}

func TestRoom_DrainPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	r, err := room.New(1, "order",
		room.WithInboundCapacity(16),
		room.WithInboundHandler(func(_ context.Context, m session.InMessage) room.Result {
			mu.Lock()
			seen = append(seen, string(m.Payload))
			mu.Unlock()
			return room.Handled
		}),
	)
	require.NoError(t, err)

	want := []string{"a", "b", "c", "d", "e", "f"}
	for _, w := range want {
		require.NoError(t, r.Handle().Inbound.Send(context.Background(), msg(protocol.CategoryGame, w)))
	}
	runRoom(t, r)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestRoom_ControlHandledBeforeInbound(t *testing.T) {
	var admitted atomic.Bool
	var sawAdmitted atomic.Bool
	done := make(chan struct{})
	r, err := room.New(1, "order",
		room.WithControlHandler(func(_ context.Context, m room.Message) room.Result {
			admitted.Store(true)
			return room.Handled
		}),
		room.WithInboundHandler(func(_ context.Context, m session.InMessage) room.Result {
			sawAdmitted.Store(admitted.Load())
			close(done)
			return room.Handled
		}),
	)
	require.NoError(t, err)

	h := r.Handle()
	require.NoError(t, h.Control.Send(context.Background(), room.TransferCommit{}))
	require.NoError(t, h.Inbound.Send(context.Background(), msg(protocol.CategoryGame, "first")))
	runRoom(t, r)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("inbound message not handled")
	}
	assert.True(t, sawAdmitted.Load())
}
