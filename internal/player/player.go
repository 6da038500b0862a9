// Package player defines the state a room holds for each admitted player and
// the loader that resolves it after authentication.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/project-spire/spire-game-server/internal/session"
)

var (
	// ErrCharacterNotFound is returned when a character id has no persisted record.
	ErrCharacterNotFound = errors.New("character not found")
	// ErrCharacterNotOwned is returned when a character belongs to another account.
	ErrCharacterNotOwned = errors.New("character not owned by account")
)

// Character is the persisted snapshot of a playable character.
type Character struct {
	ID        uint64
	AccountID uint64
	Name      string
	// LastRoom is the room the character was last admitted to; 0 if never placed.
	LastRoom  uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Bundle is everything a room needs to host one player. Bundles move between
// rooms by message; only the room that currently owns a bundle touches it.
type Bundle struct {
	Account   session.Account
	Session   *session.Context
	Character Character
}

// Key returns the registry key for this player.
func (b *Bundle) Key() Key { return KeyOf(b.Account) }

// Key identifies one logged-in character. The account id is part of the key so
// that admin accounts without a character do not collide on character 0.
type Key struct {
	AccountID   uint64
	CharacterID uint64
}

// KeyOf returns the registry key for an account.
func KeyOf(a session.Account) Key {
	return Key{AccountID: a.AccountID, CharacterID: a.CharacterID}
}

// String formats the key as "account/character".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.AccountID, k.CharacterID)
}

// Loader resolves the character for an authenticated account.
type Loader interface {
	Load(ctx context.Context, account session.Account) (Character, error)
}

// CharacterStore reads persisted characters.
type CharacterStore interface {
	GetByID(ctx context.Context, id uint64) (Character, error)
}

// StoreLoader loads characters from a CharacterStore.
type StoreLoader struct {
	store CharacterStore
}

// NewStoreLoader creates a Loader backed by store.
//
// Precondition: store must be non-nil.
func NewStoreLoader(store CharacterStore) *StoreLoader {
	return &StoreLoader{store: store}
}

// Load returns the account's character.
//
// Postcondition: An admin account without a character receives an unsaved
// placeholder character. Any other account receives its persisted character,
// ErrCharacterNotFound, or ErrCharacterNotOwned.
func (l *StoreLoader) Load(ctx context.Context, account session.Account) (Character, error) {
	switch role := account.Role().(type) {
	case session.AdminRole:
		if account.CharacterID == 0 {
			return Character{AccountID: role.AccountID, Name: fmt.Sprintf("admin-%d", role.AccountID)}, nil
		}
	case session.PlayerRole, session.CheatPlayerRole:
	}

	c, err := l.store.GetByID(ctx, account.CharacterID)
	if err != nil {
		return Character{}, fmt.Errorf("loading character %d: %w", account.CharacterID, err)
	}
	if c.AccountID != account.AccountID {
		return Character{}, fmt.Errorf("character %d for account %d: %w", c.ID, account.AccountID, ErrCharacterNotOwned)
	}
	return c, nil
}
