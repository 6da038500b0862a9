// Package app assembles the game server from configuration: it builds the
// rooms declared in the catalog, the dispatcher and its collaborators, and the
// services the lifecycle runs.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/admin"
	"github.com/project-spire/spire-game-server/internal/auth"
	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/game/world"
	"github.com/project-spire/spire-game-server/internal/gateway"
	"github.com/project-spire/spire-game-server/internal/observability"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/presence"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/storage/postgres"
)

// ProvideLogger builds the process logger.
func ProvideLogger(cfg config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Logging, cfg.Server.NodeID)
}

// ProvideCatalog loads the room catalog and checks that the configured lobby is
// a room players can stand in.
//
// Postcondition: Returns a validated catalog whose lobby is a station or game room.
func ProvideCatalog(cfg config.Config) (*world.Catalog, error) {
	catalog, err := world.LoadCatalogFromFile(cfg.Rooms.Catalog)
	if err != nil {
		return nil, err
	}
	if err := CheckLobby(catalog, cfg.Rooms.LobbyRoom); err != nil {
		return nil, err
	}
	return catalog, nil
}

// CheckLobby reports whether lobby names a non-auth room in catalog.
func CheckLobby(catalog *world.Catalog, lobby uint64) error {
	spec, ok := catalog.Lookup(lobby)
	if !ok {
		return fmt.Errorf("lobby room %d is not in the catalog", lobby)
	}
	if spec.Kind == world.KindAuth {
		return fmt.Errorf("lobby room %d must not be the auth room", lobby)
	}
	return nil
}

// ProvideVerifier reads the signing key and builds the token verifier.
func ProvideVerifier(cfg config.Config) (*auth.Verifier, error) {
	key, err := cfg.Auth.SigningKey()
	if err != nil {
		return nil, err
	}
	return auth.NewVerifier(key), nil
}

// ProvidePool connects to PostgreSQL.
//
// Postcondition: The cleanup closes the pool.
func ProvidePool(ctx context.Context, cfg config.Config, logger *zap.Logger) (*postgres.Pool, func(), error) {
	pool, err := postgres.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

// ProvideCharacterRepository builds the character repository on pool.
func ProvideCharacterRepository(pool *postgres.Pool) *postgres.CharacterRepository {
	return postgres.NewCharacterRepository(pool.DB())
}

// ProvideLoader resolves characters through a cache in front of the repository.
func ProvideLoader(cfg config.Config, chars *postgres.CharacterRepository) player.Loader {
	return player.NewCachedLoader(player.NewStoreLoader(chars), cfg.PlayerCache.TTL, cfg.PlayerCache.CleanupInterval)
}

// ProvidePresence records the last room in PostgreSQL and, when Redis is
// configured, publishes live presence there too.
//
// Postcondition: The cleanup closes the Redis client, if one was created.
func ProvidePresence(ctx context.Context, cfg config.Config, chars *postgres.CharacterRepository, logger *zap.Logger) (presence.Store, func(), error) {
	stores := presence.Multi{postgres.NewLastRoomRecorder(chars)}
	if !cfg.Presence.Enabled() {
		logger.Info("presence publishing disabled")
		return stores, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Presence.RedisAddr})
	rs := presence.NewRedisStore(client, cfg.Presence.TTL)
	if err := rs.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Presence.RedisAddr, err)
	}
	logger.Info("presence publishing to redis", zap.String("addr", cfg.Presence.RedisAddr))
	return append(stores, rs), func() { _ = client.Close() }, nil
}

// ProvideDispatcher builds the dispatcher. Rooms are registered by BuildRooms.
func ProvideDispatcher(cfg config.Config, loader player.Loader, store presence.Store, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(cfg.Dispatcher, room.ID(cfg.Rooms.LobbyRoom), cfg.Server.NodeID, loader, store, logger)
}

// ProvideAcceptor builds the game listener; new sessions start in the auth room.
func ProvideAcceptor(cfg config.Config, built *Rooms, d *dispatch.Dispatcher, logger *zap.Logger) *gateway.Acceptor {
	return gateway.NewAcceptor(cfg.Server, cfg.Session, built.Auth.Inbound, d, logger)
}

// ProvideAdmin builds the admin gRPC server.
func ProvideAdmin(cfg config.Config, d *dispatch.Dispatcher, logger *zap.Logger) *admin.Server {
	return admin.NewServer(cfg.Server.AdminAddr(), admin.NewService(d, logger), logger)
}
