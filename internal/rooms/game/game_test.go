package game_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/rooms/game"
	"github.com/project-spire/spire-game-server/internal/scripting"
	"github.com/project-spire/spire-game-server/internal/session"
	"github.com/project-spire/spire-game-server/internal/testutil"
)

const wait = 2 * time.Second

type recorder chan dispatch.Message

func (r recorder) Send(_ context.Context, m dispatch.Message) error {
	r <- m
	return nil
}

type denyKinds map[string]string

func (d denyKinds) Validate(_ context.Context, cmd scripting.Command) scripting.Verdict {
	if reason, ok := d[cmd.Kind]; ok {
		return scripting.Verdict{Reason: reason}
	}
	return scripting.Allow
}

type fakeSim struct {
	mu      sync.Mutex
	applied []string
	joined  []player.Key
	left    []player.Key
	ticks   int
	total   time.Duration
}

func (s *fakeSim) Join(_ context.Context, p *player.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, p.Key())
}

func (s *fakeSim) Leave(_ context.Context, key player.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, key)
}

func (s *fakeSim) Apply(_ context.Context, _ *player.Bundle, cmd *protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.Kind == "fail" {
		return errors.New("blocked by wall")
	}
	s.applied = append(s.applied, cmd.Kind)
	return nil
}

func (s *fakeSim) Update(_ context.Context, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.total += dt
}

func (s *fakeSim) Applied() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

type fixture struct {
	handle room.Handle
	events recorder
	sim    *fakeSim
}

func startGame(t *testing.T, validator game.Validator) *fixture {
	t.Helper()
	events := make(recorder, 16)
	sim := &fakeSim{}
	g := game.New(3, "arena", events, validator, sim, 10*time.Millisecond, zaptest.NewLogger(t))
	r, err := room.New(3, "arena", g.Options()...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &fixture{handle: r.Handle(), events: events, sim: sim}
}

func (f *fixture) admit(t *testing.T, account session.Account) (*testutil.PipeSession, *player.Bundle) {
	t.Helper()
	return f.admitWith(t, account, testutil.SessionConfig())
}

func (f *fixture) admitWith(t *testing.T, account session.Account, cfg config.SessionConfig) (*testutil.PipeSession, *player.Bundle) {
	t.Helper()
	ps := testutil.NewPipeSessionWithConfig(t, f.handle.Inbound, cfg)
	require.NoError(t, ps.Session.SetAccount(account))
	b := &player.Bundle{Account: account, Session: ps.Session, Character: player.Character{ID: account.CharacterID}}
	require.NoError(t, f.handle.Control.Send(context.Background(), room.TransferCommit{Player: b}))
	assert.Equal(t, &protocol.RoomEntered{RoomID: 3, Name: "arena"}, ps.Client.ReadNet(wait))
	select {
	case m := <-f.events:
		require.IsType(t, dispatch.RoomTransferCommit{}, m)
	case <-time.After(wait):
		t.Fatal("no transfer commit")
	}
	return ps, b
}

func TestGame_AllowedCommandReachesSimulation(t *testing.T) {
	f := startGame(t, denyKinds{})
	ps, _ := f.admit(t, session.Account{AccountID: 1, CharacterID: 10})

	ps.Client.WriteGame(&protocol.Command{Kind: "move", Payload: []byte{1, 2}})
	require.Eventually(t, func() bool { return len(f.sim.Applied()) == 1 }, wait, 5*time.Millisecond)
	assert.Equal(t, []string{"move"}, f.sim.Applied())
}

func TestGame_ValidatorRejectionNeverReachesSimulation(t *testing.T) {
	f := startGame(t, denyKinds{"teleport": "not allowed here"})
	ps, _ := f.admit(t, session.Account{AccountID: 1, CharacterID: 10})

	ps.Client.WriteGame(&protocol.Command{Kind: "teleport"})
	got := ps.Client.ReadGame(wait)
	assert.Equal(t, &protocol.Event{Kind: game.RejectedKind, Payload: []byte("teleport: not allowed here")}, got)
	assert.Empty(t, f.sim.Applied())
	assert.True(t, ps.Session.IsOpen())
}

func TestGame_SimulationErrorIsReported(t *testing.T) {
	f := startGame(t, denyKinds{})
	ps, _ := f.admit(t, session.Account{AccountID: 1, CharacterID: 10})

	ps.Client.WriteGame(&protocol.Command{Kind: "fail"})
	got := ps.Client.ReadGame(wait)
	assert.Equal(t, &protocol.Event{Kind: game.RejectedKind, Payload: []byte("fail: blocked by wall")}, got)
}

// quoteKind rejects every command with a reason that quotes the kind, the
// way WorldTime reports unknown commands.
type quoteKind struct{}

func (quoteKind) Validate(_ context.Context, cmd scripting.Command) scripting.Verdict {
	return scripting.Verdict{Reason: fmt.Sprintf("unknown command %q", cmd.Kind)}
}

func TestGame_OversizedKindIsClippedInRejection(t *testing.T) {
	f := startGame(t, quoteKind{})
	cfg := testutil.SessionConfig()
	cfg.MaxFrameSize = protocol.MaxBodyLength
	ps, _ := f.admitWith(t, session.Account{AccountID: 1, CharacterID: 10}, cfg)

	// Quoting turns each control byte into four, so an unclipped echo would not
	// fit in a frame.
	kind := string(bytes.Repeat([]byte{0x01}, 3_500_000))
	ps.Client.WriteGame(&protocol.Command{Kind: kind})

	got, ok := ps.Client.ReadGame(wait).(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, game.RejectedKind, got.Kind)
	assert.LessOrEqual(t, len(got.Payload), 2*(game.MaxEchoLength+len("..."))+len(": "))
	assert.True(t, strings.HasPrefix(string(got.Payload), kind[:game.MaxEchoLength]+"...: "))
	assert.True(t, ps.Session.IsOpen())

	ps.Client.WriteGame(&protocol.Command{Kind: "move"})
	assert.Equal(t, &protocol.Event{Kind: game.RejectedKind, Payload: []byte(`move: unknown command "move"`)}, ps.Client.ReadGame(wait))
}

func TestGame_ScriptValidator(t *testing.T) {
	scripts := scripting.NewManager(zap.NewNop())
	t.Cleanup(scripts.Close)
	dir := t.TempDir()
	require.NoError(t, writeFile(dir, "gate.lua", `
		function validate_command(cmd)
			if cmd.kind == "fly" and cmd.privilege ~= "CheatPlayer" then
				return false, "no wings"
			end
			return true
		end
	`))
	require.NoError(t, scripts.LoadRoom(context.Background(), 3, dir, 0))

	f := startGame(t, scripts.ForRoom(3))
	pilot, _ := f.admit(t, session.Account{AccountID: 1, CharacterID: 10, Privilege: session.PrivilegePlayer})
	cheater, _ := f.admit(t, session.Account{AccountID: 2, CharacterID: 20, Privilege: session.PrivilegeCheatPlayer})

	pilot.Client.WriteGame(&protocol.Command{Kind: "fly"})
	assert.Equal(t, &protocol.Event{Kind: game.RejectedKind, Payload: []byte("fly: no wings")}, pilot.Client.ReadGame(wait))

	cheater.Client.WriteGame(&protocol.Command{Kind: "fly"})
	require.Eventually(t, func() bool { return len(f.sim.Applied()) == 1 }, wait, 5*time.Millisecond)
}

func TestGame_TickUpdatesSimulation(t *testing.T) {
	f := startGame(t, denyKinds{})
	require.Eventually(t, func() bool {
		f.sim.mu.Lock()
		defer f.sim.mu.Unlock()
		return f.sim.ticks >= 3 && f.sim.total > 0
	}, wait, 5*time.Millisecond)
}

func TestGame_RosterChangesReachSimulation(t *testing.T) {
	f := startGame(t, denyKinds{})
	_, b := f.admit(t, session.Account{AccountID: 1, CharacterID: 10})
	require.NoError(t, f.handle.Control.Send(context.Background(), room.PlayerDeparted{Player: b.Key()}))

	require.Eventually(t, func() bool {
		f.sim.mu.Lock()
		defer f.sim.mu.Unlock()
		return len(f.sim.left) == 1
	}, wait, 5*time.Millisecond)
	f.sim.mu.Lock()
	defer f.sim.mu.Unlock()
	assert.Equal(t, []player.Key{b.Key()}, f.sim.joined)
	assert.Equal(t, []player.Key{b.Key()}, f.sim.left)
}

func TestGame_EnterRoomRequestsTransfer(t *testing.T) {
	f := startGame(t, denyKinds{})
	ps, b := f.admit(t, session.Account{AccountID: 1, CharacterID: 10})

	ps.Client.WriteNet(&protocol.EnterRoom{RoomID: 2})
	select {
	case m := <-f.events:
		begin, ok := m.(dispatch.RoomTransferBegin)
		require.True(t, ok)
		assert.Same(t, b, begin.Player)
		assert.Equal(t, room.ID(2), begin.Target)
	case <-time.After(wait):
		t.Fatal("no transfer request")
	}
}

func TestGame_MalformedCommandClosesSession(t *testing.T) {
	f := startGame(t, denyKinds{})
	ps, _ := f.admit(t, session.Account{AccountID: 1, CharacterID: 10})

	ps.Client.Write(protocol.CategoryGame, []byte{0x0a, 0x7f})
	ps.WaitClosed(t, wait)
	assert.Empty(t, f.sim.Applied())
}

func TestWorldTime(t *testing.T) {
	w := game.NewWorldTime(zap.NewNop())
	ctx := context.Background()
	b := &player.Bundle{Account: session.Account{AccountID: 1, CharacterID: 2}, Character: player.Character{Name: "pilot"}}

	w.Join(ctx, b)
	assert.Equal(t, "pilot", w.Present[b.Key()])
	w.Update(ctx, 100*time.Millisecond)
	w.Update(ctx, 120*time.Millisecond)
	assert.Equal(t, 220*time.Millisecond, w.Elapsed)
	assert.Equal(t, 120*time.Millisecond, w.LastDT)
	assert.Equal(t, uint64(2), w.Ticks)
	assert.Error(t, w.Apply(ctx, b, &protocol.Command{Kind: "move"}))
	w.Leave(ctx, b.Key())
	assert.Empty(t, w.Present)
}
