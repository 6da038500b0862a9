//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/project-spire/spire-game-server/internal/app"
	"github.com/project-spire/spire-game-server/internal/config"
)

func initializeApp(ctx context.Context, cfg config.Config) (*app.App, func(), error) {
	wire.Build(app.ProviderSet)
	return nil, nil, nil
}
