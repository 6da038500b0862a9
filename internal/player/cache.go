package player

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/project-spire/spire-game-server/internal/session"
)

// CachedLoader memoises another Loader by character id. Concurrent loads of the
// same character share one underlying call.
type CachedLoader struct {
	next  Loader
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedLoader wraps next with an in-memory cache.
//
// Precondition: next must be non-nil; ttl must be positive.
func NewCachedLoader(next Loader, ttl, cleanupInterval time.Duration) *CachedLoader {
	return &CachedLoader{
		next:  next,
		cache: cache.New(ttl, cleanupInterval),
	}
}

// Load returns a cached character or loads it through the wrapped Loader.
// Accounts without a character id bypass the cache.
//
// Postcondition: A cached character is only returned to the account that owns it.
func (l *CachedLoader) Load(ctx context.Context, account session.Account) (Character, error) {
	if account.CharacterID == 0 {
		return l.next.Load(ctx, account)
	}

	key := strconv.FormatUint(account.CharacterID, 10)
	if v, ok := l.cache.Get(key); ok {
		if c, ok := v.(Character); ok && c.AccountID == account.AccountID {
			return c, nil
		}
	}

	v, err, _ := l.group.Do(key+"/"+strconv.FormatUint(account.AccountID, 10), func() (interface{}, error) {
		c, err := l.next.Load(ctx, account)
		if err != nil {
			return Character{}, err
		}
		l.cache.SetDefault(key, c)
		return c, nil
	})
	if err != nil {
		return Character{}, err
	}
	return v.(Character), nil
}

// Invalidate drops the cached entry for a character.
func (l *CachedLoader) Invalidate(characterID uint64) {
	l.cache.Delete(strconv.FormatUint(characterID, 10))
}

// Len returns the number of cached characters.
func (l *CachedLoader) Len() int { return l.cache.ItemCount() }
