package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/auth"
	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/game/world"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/rooms/game"
	"github.com/project-spire/spire-game-server/internal/rooms/login"
	"github.com/project-spire/spire-game-server/internal/rooms/station"
	"github.com/project-spire/spire-game-server/internal/scripting"
)

// Rooms holds the built room actors.
type Rooms struct {
	Auth room.Handle
	All  []*room.Room
}

// ProvideScripts loads the validation scripts of every game room that declares
// a script directory.
//
// Postcondition: The cleanup closes every Lua state.
func ProvideScripts(ctx context.Context, cfg config.Config, catalog *world.Catalog, logger *zap.Logger) (*scripting.Manager, func(), error) {
	mgr := scripting.NewManager(logger)
	for _, spec := range catalog.Sorted() {
		if spec.ScriptDir == "" {
			continue
		}
		limit := spec.ScriptInstructionLimit
		if limit == 0 {
			limit = cfg.Game.InstructionLimit
		}
		dir := filepath.Join(cfg.Game.ScriptRoot, spec.ScriptDir)
		if err := mgr.LoadRoom(ctx, spec.ID, dir, limit); err != nil {
			mgr.Close()
			return nil, nil, err
		}
	}
	return mgr, mgr.Close, nil
}

// BuildRooms creates a room actor per catalog entry and registers each with d.
//
// Precondition: catalog passed Validate; d has not started running.
// Postcondition: Rooms.Auth is the auth room handle and All holds every room in
// id order.
func BuildRooms(cfg config.Config, catalog *world.Catalog, verifier *auth.Verifier, d *dispatch.Dispatcher, scripts *scripting.Manager, logger *zap.Logger) (*Rooms, error) {
	built := &Rooms{}
	for _, spec := range catalog.Sorted() {
		id := room.ID(spec.ID)
		rlog := logger.With(zap.Uint64("room", spec.ID), zap.String("room_name", spec.Name))

		var opts []room.Option
		switch spec.Kind {
		case world.KindAuth:
			opts = login.New(verifier, d, cfg.Game.CheatEnabled, rlog).Options()
		case world.KindStation:
			opts = station.New(id, spec.Name, d, rlog).Options()
		case world.KindGame:
			tick := spec.Tick
			if tick == 0 {
				tick = cfg.Game.TickInterval
			}
			sim := game.NewWorldTime(rlog)
			opts = game.New(id, spec.Name, d, scripts.ForRoom(spec.ID), sim, tick, rlog).Options()
		default:
			return nil, fmt.Errorf("room %d: unknown kind %q", spec.ID, spec.Kind)
		}
		// The runtime annotates its own logger with the room fields.
		opts = append(opts,
			room.WithInboundCapacity(cfg.Rooms.InboundCapacity),
			room.WithControlCapacity(cfg.Rooms.ControlCapacity),
			room.WithLogger(logger),
		)

		r, err := room.New(id, spec.Name, opts...)
		if err != nil {
			return nil, err
		}
		if err := d.AddRoom(r.Handle()); err != nil {
			return nil, err
		}
		if spec.Kind == world.KindAuth {
			built.Auth = r.Handle()
		}
		built.All = append(built.All, r)
	}
	if built.Auth.Inbound == nil {
		return nil, fmt.Errorf("catalog has no auth room")
	}
	logger.Info("rooms built", zap.Int("count", len(built.All)))
	return built, nil
}
