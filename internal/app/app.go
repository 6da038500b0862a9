package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/admin"
	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/gateway"
	"github.com/project-spire/spire-game-server/internal/server"
	"github.com/project-spire/spire-game-server/internal/storage/postgres"
)

// healthInterval is how often the database connection is checked.
const healthInterval = 30 * time.Second

// App is the assembled server.
type App struct {
	Logger    *zap.Logger
	Lifecycle *server.Lifecycle
}

// ProviderSet builds an *App from a context and a validated config.Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideCatalog,
	ProvideVerifier,
	ProvidePool,
	ProvideCharacterRepository,
	ProvideLoader,
	ProvidePresence,
	ProvideDispatcher,
	ProvideScripts,
	BuildRooms,
	ProvideAcceptor,
	ProvideAdmin,
	ProvideLifecycle,
	wire.Struct(new(App), "*"),
)

// ProvideLifecycle registers every service. Services stop in reverse order, so
// the listeners shut before the dispatcher and rooms.
func ProvideLifecycle(logger *zap.Logger, pool *postgres.Pool, d *dispatch.Dispatcher, built *Rooms, acceptor *gateway.Acceptor, adminSrv *admin.Server) *server.Lifecycle {
	lc := server.NewLifecycle(logger)

	lc.Add("postgres", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			t := time.NewTicker(healthInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
	})
	for _, r := range built.All {
		lc.Add(fmt.Sprintf("room-%d", r.ID()), &server.FuncService{StartFn: r.Run})
	}
	lc.Add("dispatcher", &server.FuncService{StartFn: d.Run})
	lc.Add("gateway", acceptor)
	lc.Add("admin", adminSrv)
	return lc
}
