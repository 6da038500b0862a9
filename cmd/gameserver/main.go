// Package main provides the game server binary: the framed TCP gateway, the
// room actors and dispatcher, and the admin gRPC surface.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/config"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	a, cleanup, err := initializeApp(ctx, cfg)
	if err != nil {
		log.Fatalf("initializing server: %v", err)
	}
	defer cleanup()
	logger := a.Logger
	defer func() { _ = logger.Sync() }()

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("admin_addr", cfg.Server.AdminAddr()),
		zap.Uint64("lobby", cfg.Rooms.LobbyRoom),
		zap.Bool("cheat_enabled", cfg.Game.CheatEnabled),
	)

	if err := a.Lifecycle.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		cleanup()
		_ = logger.Sync()
		log.Fatalf("server error: %v", err)
	}
}
