package presence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-spire/spire-game-server/internal/presence"
	"github.com/project-spire/spire-game-server/internal/testutil"
)

type recordingStore struct {
	online  []presence.Entry
	offline int
	err     error
}

func (r *recordingStore) Online(_ context.Context, e presence.Entry) error {
	r.online = append(r.online, e)
	return r.err
}

func (r *recordingStore) Offline(context.Context, uint64, uint64) error {
	r.offline++
	return r.err
}

func TestKey(t *testing.T) {
	assert.Equal(t, "spire:presence:7:42", presence.Key(7, 42))
}

func TestMulti_CallsEveryStore(t *testing.T) {
	failing := &recordingStore{err: errors.New("boom")}
	ok := &recordingStore{}
	m := presence.Multi{failing, ok}

	err := m.Online(context.Background(), presence.Entry{AccountID: 1, CharacterID: 2, Room: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, failing.online, 1)
	assert.Len(t, ok.online, 1, "a failing store does not stop the others")

	require.Error(t, m.Offline(context.Background(), 1, 2))
	assert.Equal(t, 1, ok.offline)
}

func TestMulti_Empty(t *testing.T) {
	var m presence.Multi
	assert.NoError(t, m.Online(context.Background(), presence.Entry{}))
	assert.NoError(t, m.Offline(context.Background(), 0, 0))
}

func TestRedisStore(t *testing.T) {
	client := testutil.NewRedisClient(t)
	store := presence.NewRedisStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	_, err := store.Lookup(ctx, 1, 2)
	assert.ErrorIs(t, err, presence.ErrNotFound)

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Online(ctx, presence.Entry{AccountID: 1, CharacterID: 2, Room: 3, Node: "n1", Since: since}))

	got, err := store.Lookup(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Room)
	assert.Equal(t, "n1", got.Node)
	assert.True(t, since.Equal(got.Since))

	ttl, err := client.TTL(ctx, presence.Key(1, 2)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Offline(ctx, 1, 2))
	_, err = store.Lookup(ctx, 1, 2)
	assert.ErrorIs(t, err, presence.ErrNotFound)
}
