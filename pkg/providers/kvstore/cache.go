package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// cacheTTL bounds how long a Get result is trusted from Redis before the
// database is consulted again.
const cacheTTL = 30 * time.Second

// CachedStore wraps a Store with a Redis read-through cache on Get,
// invalidated on Put/Delete. Mirrors the teacher's Redis-then-DB
// deduplication pattern.
type CachedStore struct {
	*Store
	rdb *redis.Client
}

// NewCachedStore wraps store with a Redis cache. rdb may be nil, in which
// case every call falls through to the database.
func NewCachedStore(store *Store, rdb *redis.Client) *CachedStore {
	return &CachedStore{Store: store, rdb: rdb}
}

func cacheKey(t tenant.ID, key string, scopes []string) string {
	return fmt.Sprintf("kv:%s:%s:%s", t.String(), key, strings.Join(scopes, ","))
}

// Get tries the Redis cache first, falling back to the database on a miss
// and repopulating the cache on success.
func (c *CachedStore) Get(ctx context.Context, t tenant.ID, key string, scopes []string) (Record, error) {
	if c.rdb == nil {
		return c.Store.Get(ctx, t, key, scopes)
	}

	ck := cacheKey(t, key, scopes)
	if raw, err := c.rdb.Get(ctx, ck).Bytes(); err == nil {
		var r Record
		if jsonErr := json.Unmarshal(raw, &r); jsonErr == nil {
			return r, nil
		}
	}

	r, err := c.Store.Get(ctx, t, key, scopes)
	if err != nil {
		return Record{}, err
	}
	if raw, err := json.Marshal(r); err == nil {
		_ = c.rdb.Set(ctx, ck, raw, cacheTTL).Err()
	}
	return r, nil
}

// Put writes through to the database and invalidates the cache entry so the
// next Get repopulates it with fresh data rather than serving a stale copy.
func (c *CachedStore) Put(ctx context.Context, t tenant.ID, key string, scopes []string, value valuetree.Value, expiresAt *time.Time) (Record, error) {
	r, err := c.Store.Put(ctx, t, key, scopes, value, expiresAt)
	if err != nil {
		return Record{}, err
	}
	c.invalidate(ctx, t, key, scopes)
	return r, nil
}

// Delete removes the row and its cache entry.
func (c *CachedStore) Delete(ctx context.Context, t tenant.ID, key string, scopes []string) error {
	err := c.Store.Delete(ctx, t, key, scopes)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	c.invalidate(ctx, t, key, scopes)
	return err
}

func (c *CachedStore) invalidate(ctx context.Context, t tenant.ID, key string, scopes []string) {
	if c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, cacheKey(t, key, scopes)).Err()
}
