package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/presence"
	"github.com/project-spire/spire-game-server/internal/session"
	"github.com/project-spire/spire-game-server/internal/storage/postgres"
	"github.com/project-spire/spire-game-server/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func setupRepos(t *testing.T) (*pgxpool.Pool, *postgres.CharacterRepository, postgres.Account) {
	t.Helper()
	pool := testutil.NewPool(t)
	accounts := postgres.NewAccountRepository(pool)
	acct, err := accounts.Create(context.Background(), uniqueName("user"), "password123", session.PrivilegePlayer)
	require.NoError(t, err)
	return pool, postgres.NewCharacterRepository(pool), acct
}

func TestStorage(t *testing.T) {
	pool, chars, acct := setupRepos(t)
	ctx := context.Background()

	t.Run("CharacterCreateAndGet", func(t *testing.T) {
		created, err := chars.Create(ctx, acct.ID, uniqueName("Aria"))
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, acct.ID, created.AccountID)
		assert.Zero(t, created.LastRoom)

		got, err := chars.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Name, got.Name)
		assert.Equal(t, acct.ID, got.AccountID)
	})

	t.Run("CharacterDuplicateName", func(t *testing.T) {
		name := uniqueName("Dup")
		_, err := chars.Create(ctx, acct.ID, name)
		require.NoError(t, err)
		_, err = chars.Create(ctx, acct.ID, name)
		assert.ErrorIs(t, err, postgres.ErrCharacterNameTaken)
	})

	t.Run("CharacterNotFound", func(t *testing.T) {
		_, err := chars.GetByID(ctx, 1<<40)
		assert.ErrorIs(t, err, player.ErrCharacterNotFound)
	})

	t.Run("ListByAccount", func(t *testing.T) {
		accounts := postgres.NewAccountRepository(pool)
		other, err := accounts.Create(ctx, uniqueName("lister"), "pw", session.PrivilegePlayer)
		require.NoError(t, err)

		first, err := chars.Create(ctx, other.ID, "first")
		require.NoError(t, err)
		second, err := chars.Create(ctx, other.ID, "second")
		require.NoError(t, err)

		list, err := chars.ListByAccount(ctx, other.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)

		empty, err := chars.ListByAccount(ctx, 1<<40)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("SaveLastRoom", func(t *testing.T) {
		c, err := chars.Create(ctx, acct.ID, uniqueName("Room"))
		require.NoError(t, err)

		require.NoError(t, chars.SaveLastRoom(ctx, c.ID, 3))
		got, err := chars.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got.LastRoom)

		assert.ErrorIs(t, chars.SaveLastRoom(ctx, 1<<40, 3), player.ErrCharacterNotFound)
	})

	t.Run("LastRoomRecorder", func(t *testing.T) {
		c, err := chars.Create(ctx, acct.ID, uniqueName("Rec"))
		require.NoError(t, err)
		rec := postgres.NewLastRoomRecorder(chars)

		require.NoError(t, rec.Online(ctx, presence.Entry{AccountID: acct.ID, CharacterID: c.ID, Room: 2}))
		require.NoError(t, rec.Offline(ctx, acct.ID, c.ID))
		got, err := chars.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.LastRoom)

		assert.NoError(t, rec.Online(ctx, presence.Entry{AccountID: acct.ID, Room: 2}), "admin sessions have no character")
	})

	t.Run("StoreLoader", func(t *testing.T) {
		c, err := chars.Create(ctx, acct.ID, uniqueName("Load"))
		require.NoError(t, err)
		loader := player.NewStoreLoader(chars)

		got, err := loader.Load(ctx, session.Account{AccountID: acct.ID, CharacterID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)

		_, err = loader.Load(ctx, session.Account{AccountID: acct.ID + 1, CharacterID: c.ID})
		assert.ErrorIs(t, err, player.ErrCharacterNotOwned)
	})

	t.Run("AccountAuthenticate", func(t *testing.T) {
		accounts := postgres.NewAccountRepository(pool)
		name := uniqueName("auth")
		created, err := accounts.Create(ctx, name, "hunter2", session.PrivilegeCheatPlayer)
		require.NoError(t, err)

		got, err := accounts.Authenticate(ctx, name, "hunter2")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, session.PrivilegeCheatPlayer, got.Privilege)

		_, err = accounts.Authenticate(ctx, name, "wrong")
		assert.ErrorIs(t, err, postgres.ErrInvalidCredentials)
		_, err = accounts.Authenticate(ctx, uniqueName("ghost"), "x")
		assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
		_, err = accounts.Create(ctx, name, "again", session.PrivilegePlayer)
		assert.ErrorIs(t, err, postgres.ErrAccountExists)
	})

	t.Run("AccountSetPrivilege", func(t *testing.T) {
		accounts := postgres.NewAccountRepository(pool)
		name := uniqueName("priv")
		created, err := accounts.Create(ctx, name, "pw", session.PrivilegePlayer)
		require.NoError(t, err)

		require.NoError(t, accounts.SetPrivilege(ctx, created.ID, session.PrivilegeAdmin))
		got, err := accounts.GetByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, session.PrivilegeAdmin, got.Privilege)

		assert.ErrorIs(t, accounts.SetPrivilege(ctx, 1<<40, session.PrivilegeAdmin), postgres.ErrAccountNotFound)
	})
}
