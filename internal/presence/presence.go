// Package presence publishes which characters are online and where, so tools
// and other nodes can see players without asking the dispatcher.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Lookup when a character has no presence record.
var ErrNotFound = errors.New("presence not found")

// Entry is one online character.
type Entry struct {
	AccountID   uint64    `json:"aid"`
	CharacterID uint64    `json:"cid"`
	Room        uint64    `json:"room"`
	Node        string    `json:"node"`
	Since       time.Time `json:"since"`
}

// Store records presence.
type Store interface {
	Online(ctx context.Context, e Entry) error
	Offline(ctx context.Context, accountID, characterID uint64) error
}

// Nop discards presence updates. It is used when no Redis address is configured.
type Nop struct{}

// Online does nothing.
func (Nop) Online(context.Context, Entry) error { return nil }

// Offline does nothing.
func (Nop) Offline(context.Context, uint64, uint64) error { return nil }

// RedisStore keeps one expiring key per character.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Store on client. Records expire after ttl unless
// refreshed by another Online call.
//
// Precondition: client must be non-nil; ttl must be positive.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Key returns the Redis key for a character.
func Key(accountID, characterID uint64) string {
	return "spire:presence:" + strconv.FormatUint(accountID, 10) + ":" + strconv.FormatUint(characterID, 10)
}

// Online writes e with the store TTL.
func (s *RedisStore) Online(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding presence: %w", err)
	}
	if err := s.client.Set(ctx, Key(e.AccountID, e.CharacterID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing presence: %w", err)
	}
	return nil
}

// Offline removes a character's record.
func (s *RedisStore) Offline(ctx context.Context, accountID, characterID uint64) error {
	if err := s.client.Del(ctx, Key(accountID, characterID)).Err(); err != nil {
		return fmt.Errorf("removing presence: %w", err)
	}
	return nil
}

// Lookup returns a character's record.
//
// Postcondition: Returns ErrNotFound when the character is offline.
func (s *RedisStore) Lookup(ctx context.Context, accountID, characterID uint64) (Entry, error) {
	raw, err := s.client.Get(ctx, Key(accountID, characterID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("reading presence: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decoding presence: %w", err)
	}
	return e, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Multi fans updates out to several stores. Every store is called; the errors
// are joined.
type Multi []Store

// Online calls Online on every store.
func (m Multi) Online(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Online(ctx, e))
	}
	return errors.Join(errs...)
}

// Offline calls Offline on every store.
func (m Multi) Offline(ctx context.Context, accountID, characterID uint64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Offline(ctx, accountID, characterID))
	}
	return errors.Join(errs...)
}
