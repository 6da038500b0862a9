package mailbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/project-spire/spire-game-server/internal/mailbox"
)

func TestSend_BlocksWhenFull(t *testing.T) {
	mb := mailbox.New[int](2)
	ctx := context.Background()
	require.NoError(t, mb.Send(ctx, 1))
	require.NoError(t, mb.Send(ctx, 2))

	sent := make(chan error, 1)
	go func() { sent <- mb.Send(ctx, 3) }()

	select {
	case <-sent:
		t.Fatal("send on a full mailbox must suspend")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, mb.Len(), "mailbox must not grow past capacity")

	assert.Equal(t, 1, <-mb.Receive())
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked send did not resume")
	}
	assert.Equal(t, 2, <-mb.Receive())
	assert.Equal(t, 3, <-mb.Receive())
}

func TestSend_ContextCancelled(t *testing.T) {
	mb := mailbox.New[int](1)
	require.NoError(t, mb.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mb.Send(ctx, 2), context.DeadlineExceeded)
	assert.Equal(t, 1, mb.Len())
}

func TestSend_ClosedUnblocksProducer(t *testing.T) {
	mb := mailbox.New[int](1)
	require.NoError(t, mb.Send(context.Background(), 1))

	sent := make(chan error, 1)
	go func() { sent <- mb.Send(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)
	mb.Close()

	select {
	case err := <-sent:
		assert.ErrorIs(t, err, mailbox.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not release the blocked producer")
	}
}

func TestSend_ClosedWithSpace(t *testing.T) {
	mb := mailbox.New[string](4)
	mb.Close()
	mb.Close()
	assert.True(t, mb.Closed())
	assert.ErrorIs(t, mb.Send(context.Background(), "x"), mailbox.ErrClosed)
	assert.False(t, mb.TrySend("x"))
	assert.Equal(t, 0, mb.Len())
}

func TestTrySend(t *testing.T) {
	mb := mailbox.New[int](1)
	assert.True(t, mb.TrySend(1))
	assert.False(t, mb.TrySend(2))
	assert.Equal(t, 1, mb.Cap())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { mailbox.New[int](0) })
}

func TestProperty_DrainPreservesOrderAndBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 32).Draw(rt, "capacity")
		n := rapid.IntRange(0, capacity).Draw(rt, "n")
		limit := rapid.IntRange(0, 40).Draw(rt, "limit")

		mb := mailbox.New[int](capacity)
		for i := 0; i < n; i++ {
			require.True(rt, mb.TrySend(i))
		}

		got := mb.Drain(nil, limit)
		want := n
		if limit < want {
			want = limit
		}
		require.Len(rt, got, want)
		for i, v := range got {
			assert.Equal(rt, i, v)
		}
		assert.Equal(rt, n-want, mb.Len())
	})
}
