// Package dispatch implements the server dispatcher: the single goroutine that
// owns the session and room registries and serializes authentication, room
// transfer, broadcast and session closure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/mailbox"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/presence"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/session"
)

// ErrDuplicateRoom is returned by AddRoom when a room id is already registered.
var ErrDuplicateRoom = errors.New("room already registered")

// Dispatcher owns the registries. All registry access happens on the goroutine
// running Run; other goroutines communicate with it through Send.
type Dispatcher struct {
	cfg      config.DispatcherConfig
	lobby    room.ID
	node     string
	loader   player.Loader
	presence *presence.Queue
	logger   *zap.Logger

	inbox *mailbox.Mailbox[Message]
	loads sync.WaitGroup

	sessions  map[player.Key]*session.Context
	rooms     map[room.ID]room.Handle
	transfers map[player.Key]room.ID
	locations map[player.Key]room.ID
}

// New creates a dispatcher. Authenticated players are transferred to lobby.
// Presence updates go to store from a background queue, never from the
// dispatcher goroutine.
//
// Precondition: loader, store and logger must be non-nil; cfg must pass validation.
func New(cfg config.DispatcherConfig, lobby room.ID, node string, loader player.Loader, store presence.Store, logger *zap.Logger) *Dispatcher {
	logger = logger.Named("dispatcher")
	return &Dispatcher{
		cfg:       cfg,
		lobby:     lobby,
		node:      node,
		loader:    loader,
		presence:  presence.NewQueue(store, cfg.MailboxCapacity, cfg.PresenceTimeout, logger),
		logger:    logger,
		inbox:     mailbox.New[Message](cfg.MailboxCapacity),
		sessions:  make(map[player.Key]*session.Context),
		rooms:     make(map[room.ID]room.Handle),
		transfers: make(map[player.Key]room.ID),
		locations: make(map[player.Key]room.ID),
	}
}

// AddRoom registers a room.
//
// Precondition: Called before Run.
func (d *Dispatcher) AddRoom(h room.Handle) error {
	if _, ok := d.rooms[h.ID]; ok {
		return fmt.Errorf("room %d: %w", h.ID, ErrDuplicateRoom)
	}
	d.rooms[h.ID] = h
	return nil
}

// Send enqueues m, suspending while the dispatcher mailbox is full.
//
// Postcondition: Returns mailbox.ErrClosed after the dispatcher has stopped.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	return d.inbox.Send(ctx, m)
}

// Stats asks the running dispatcher for a registry snapshot.
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := d.Send(ctx, StatsRequest{Reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Run processes messages in arrival order until ctx is cancelled.
//
// Postcondition: The mailbox is closed, every in-flight player load has
// finished and queued presence updates have been applied when Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", zap.Int("rooms", len(d.rooms)))
	go d.presence.Run()
	defer func() {
		d.inbox.Close()
		d.loads.Wait()
		d.presence.Close()
		d.logger.Info("dispatcher stopped", zap.Int("sessions", len(d.sessions)))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-d.inbox.Receive():
			d.handle(ctx, m)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, m Message) {
	switch m := m.(type) {
	case Broadcast:
		d.broadcast(ctx, m)
	case SessionAuthenticated:
		d.authenticated(ctx, m)
	case playerLoaded:
		d.loaded(ctx, m)
	case SessionClosed:
		d.closed(ctx, m)
	case RoomTransferBegin:
		d.beginTransfer(ctx, m)
	case RoomTransferCommit:
		d.commitTransfer(ctx, m)
	case StatsRequest:
		select {
		case m.Reply <- d.snapshot():
		default:
			d.logger.Warn("stats reply channel full")
		}
	default:
		d.logger.Error("unknown dispatcher message", zap.String("type", fmt.Sprintf("%T", m)))
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, m Broadcast) {
	if m.Room != 0 {
		h, ok := d.rooms[m.Room]
		if !ok {
			d.logger.Warn("broadcast to unknown room", zap.Uint64("room", uint64(m.Room)))
			return
		}
		d.deliver(ctx, h, room.Broadcast{Frame: m.Frame})
		return
	}
	for _, h := range d.rooms {
		d.deliver(ctx, h, room.Broadcast{Frame: m.Frame})
	}
}

func (d *Dispatcher) authenticated(ctx context.Context, m SessionAuthenticated) {
	logger := d.logger.With(zap.Stringer("session", m.Session))
	if !m.Session.IsOpen() {
		logger.Debug("dropping authentication for closed session")
		return
	}

	key := player.KeyOf(m.Account)
	if prev, ok := d.sessions[key]; ok && prev != m.Session {
		logger.Info("replacing existing session for character",
			zap.Stringer("player", key),
			zap.Stringer("previous", prev),
		)
		prev.Close()
		delete(d.transfers, key)
		d.vacate(ctx, key)
	}
	d.sessions[key] = m.Session

	d.loads.Add(1)
	go func() {
		defer d.loads.Done()
		c, err := d.loader.Load(ctx, m.Account)
		msg := playerLoaded{session: m.Session, account: m.Account, character: c, err: err}
		if err := d.Send(ctx, msg); err != nil {
			logger.Debug("dispatcher gone before player load completed", zap.Error(err))
		}
	}()
}

func (d *Dispatcher) loaded(ctx context.Context, m playerLoaded) {
	key := player.KeyOf(m.account)
	logger := d.logger.With(zap.Stringer("session", m.session), zap.Stringer("player", key))
	if d.sessions[key] != m.session {
		logger.Debug("dropping player load for replaced session")
		return
	}
	if m.err != nil {
		logger.Warn("loading player failed", zap.Error(m.err))
		delete(d.sessions, key)
		m.session.Close()
		return
	}
	if !m.session.IsOpen() {
		logger.Debug("dropping player load for closed session")
		return
	}

	bundle := &player.Bundle{Account: m.account, Session: m.session, Character: m.character}
	d.beginTransfer(ctx, RoomTransferBegin{Player: bundle, Target: d.lobby})
}

func (d *Dispatcher) closed(ctx context.Context, m SessionClosed) {
	account, ok := m.Session.Account()
	if !ok {
		return
	}
	key := player.KeyOf(account)
	if d.sessions[key] != m.Session {
		return
	}
	delete(d.sessions, key)
	delete(d.transfers, key)
	// Rooms prune the player the next time they find its session closed.
	delete(d.locations, key)

	if err := d.presence.Offline(ctx, key.AccountID, key.CharacterID); err != nil {
		d.logger.Warn("clearing presence failed", zap.Stringer("player", key), zap.Error(err))
	}
	d.logger.Debug("session unregistered", zap.Stringer("session", m.Session), zap.Stringer("player", key))
}

// beginTransfer validates a transfer and, if valid, hands the player to the
// target room before retargeting the session so the room knows the player by
// the time its first frame arrives. A rejected transfer changes nothing.
func (d *Dispatcher) beginTransfer(ctx context.Context, m RoomTransferBegin) {
	key := m.Player.Key()
	sess := m.Player.Session
	logger := d.logger.With(
		zap.Stringer("player", key),
		zap.Uint64("target", uint64(m.Target)),
	)

	h, ok := d.rooms[m.Target]
	if !ok {
		logger.Warn("transfer target unknown")
		return
	}
	if !h.Alive() {
		logger.Warn("transfer target stopped")
		delete(d.rooms, m.Target)
		return
	}
	if !sess.IsOpen() {
		logger.Debug("transfer for closed session")
		return
	}
	if d.sessions[key] != sess {
		logger.Warn("transfer for unregistered session")
		return
	}
	if t, busy := d.transfers[key]; busy {
		// A transfer into a room that stopped before acknowledging can never
		// complete; only a live pending target blocks a new transfer.
		if pending, ok := d.rooms[t]; ok && pending.Alive() {
			logger.Warn("transfer already in flight", zap.Uint64("pending", uint64(t)))
			return
		}
		delete(d.transfers, key)
	}
	if loc, ok := d.locations[key]; ok && loc == m.Target {
		logger.Debug("player already in target room")
		return
	}

	if !d.deliver(ctx, h, room.TransferCommit{Player: m.Player}) {
		return
	}
	if !sess.Retarget(ctx, h.Inbound) {
		logger.Debug("session closed during transfer")
		return
	}
	d.transfers[key] = m.Target
	d.vacate(ctx, key)
	logger.Debug("transfer started")
}

func (d *Dispatcher) commitTransfer(ctx context.Context, m RoomTransferCommit) {
	key := m.Player.Key()
	if d.sessions[key] != m.Player.Session {
		d.logger.Debug("stale transfer commit", zap.Stringer("player", key))
		return
	}
	if t, ok := d.transfers[key]; ok && t == m.Room {
		delete(d.transfers, key)
	}
	d.locations[key] = m.Room

	err := d.presence.Online(ctx, presence.Entry{
		AccountID:   key.AccountID,
		CharacterID: key.CharacterID,
		Room:        uint64(m.Room),
		Node:        d.node,
		Since:       time.Now().UTC(),
	})
	if err != nil {
		d.logger.Warn("publishing presence failed", zap.Stringer("player", key), zap.Error(err))
	}
	d.logger.Info("player entered room", zap.Stringer("player", key), zap.Uint64("room", uint64(m.Room)))
}

// vacate tells the player's current room, if any, that the player has left.
func (d *Dispatcher) vacate(ctx context.Context, key player.Key) {
	loc, ok := d.locations[key]
	if !ok {
		return
	}
	delete(d.locations, key)
	if h, ok := d.rooms[loc]; ok {
		d.deliver(ctx, h, room.PlayerDeparted{Player: key})
	}
}

// deliver sends a control message to a room, bounded by the delivery timeout.
// A stopped room is removed from the registry.
func (d *Dispatcher) deliver(ctx context.Context, h room.Handle, m room.Message) bool {
	dctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	err := h.Control.Send(dctx, m)
	switch {
	case err == nil:
		return true
	case errors.Is(err, mailbox.ErrClosed):
		d.logger.Warn("room stopped, removing from registry", zap.Uint64("room", uint64(h.ID)))
		delete(d.rooms, h.ID)
	default:
		d.logger.Warn("room delivery failed",
			zap.Uint64("room", uint64(h.ID)),
			zap.String("type", fmt.Sprintf("%T", m)),
			zap.Error(err),
		)
	}
	return false
}

func (d *Dispatcher) snapshot() Stats {
	players := make(map[room.ID]int, len(d.rooms))
	for _, id := range d.locations {
		players[id]++
	}
	s := Stats{Sessions: len(d.sessions), Transfers: len(d.transfers)}
	for id, h := range d.rooms {
		s.Rooms = append(s.Rooms, RoomStats{ID: id, Name: h.Name, Players: players[id], Alive: h.Alive()})
	}
	sort.Slice(s.Rooms, func(i, j int) bool { return s.Rooms[i].ID < s.Rooms[j].ID })
	return s
}
