// Package login implements the auth room, the first room every session is
// pinned to. It accepts only Login frames.
package login

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/auth"
	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/protocol"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/rooms"
	"github.com/project-spire/spire-game-server/internal/session"
)

var (
	// ErrRoleMismatch is returned when the role declared in Login differs from the token.
	ErrRoleMismatch = errors.New("login role does not match token")
	// ErrCheatsDisabled is returned for CheatPlayer logins while cheats are off.
	ErrCheatsDisabled = errors.New("cheat players are not admitted")
)

// TokenVerifier turns a token into an Account.
type TokenVerifier interface {
	Verify(token string) (session.Account, error)
}

// Room validates logins and reports successful ones to the dispatcher.
type Room struct {
	verifier     TokenVerifier
	server       dispatch.Sender
	cheatEnabled bool
	logger       *zap.Logger
	counter      rooms.Counter
}

// New creates the auth room behaviour.
//
// Precondition: verifier, server and logger must be non-nil.
func New(verifier TokenVerifier, server dispatch.Sender, cheatEnabled bool, logger *zap.Logger) *Room {
	return &Room{
		verifier:     verifier,
		server:       server,
		cheatEnabled: cheatEnabled,
		logger:       logger,
	}
}

// Options returns the room options that install the auth handlers.
func (r *Room) Options() []room.Option {
	return []room.Option{
		room.WithInboundHandler(r.counter.Handle),
		room.WithInboundHandler(r.handleLogin),
		room.WithControlHandler(r.handleControl),
		room.WithLogger(r.logger),
	}
}

// Counter exposes the frame counts.
func (r *Room) Counter() *rooms.Counter { return &r.counter }

func (r *Room) handleLogin(ctx context.Context, m session.InMessage) room.Result {
	if m.Category != protocol.CategoryAuth {
		return room.NotMine
	}
	logger := r.logger.With(zap.Stringer("session", m.Session), zap.String("peer", m.Session.PeerAddr))

	msg, err := protocol.UnmarshalAuth(m.Payload)
	if err != nil {
		return rooms.CloseOnMalformed(r.logger, m, err)
	}
	login, ok := msg.(*protocol.Login)
	if !ok {
		return rooms.CloseOnMalformed(r.logger, m, fmt.Errorf("unexpected auth message %T", msg))
	}

	account, err := r.authenticate(login)
	if err != nil {
		logger.Info("login rejected", zap.Error(err))
		m.Session.Close()
		return room.Handled
	}
	if err := m.Session.SetAccount(account); err != nil {
		logger.Warn("login rejected", zap.Error(err))
		m.Session.Close()
		return room.Handled
	}

	logger.Info("authenticated",
		zap.Uint64("account", account.AccountID),
		zap.Uint64("character", account.CharacterID),
		zap.Stringer("privilege", account.Privilege),
	)
	if err := r.server.Send(ctx, dispatch.SessionAuthenticated{Session: m.Session, Account: account}); err != nil {
		logger.Warn("dispatcher unavailable", zap.Error(err))
	}
	return room.Handled
}

// handleControl absorbs server broadcasts. The auth room hosts no players, so
// there is nobody to forward them to.
func (r *Room) handleControl(_ context.Context, m room.Message) room.Result {
	if _, ok := m.(room.Broadcast); ok {
		return room.Handled
	}
	return room.NotMine
}

func (r *Room) authenticate(login *protocol.Login) (session.Account, error) {
	account, err := r.verifier.Verify(login.Token)
	if err != nil {
		return session.Account{}, err
	}
	if login.Role.String() != account.Privilege.String() {
		return session.Account{}, fmt.Errorf("%w: login %s, token %s", ErrRoleMismatch, login.Role, account.Privilege)
	}
	if account.Privilege == session.PrivilegeCheatPlayer && !r.cheatEnabled {
		return session.Account{}, ErrCheatsDisabled
	}
	return account, nil
}

// Compile-time check that the package's verifier satisfies TokenVerifier.
var _ TokenVerifier = (*auth.Verifier)(nil)
