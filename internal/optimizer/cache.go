package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const qTableKeyPrefix = "irrigation:qtable:"

// RedisKV is the subset of *redis.Client the Q-table cache uses.
type RedisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedQTableStore is a read-through redis cache in front of another
// QTableStore. Cache failures are logged and fall through to the backing
// store; they never fail a Load or Save.
type CachedQTableStore struct {
	next   QTableStore
	kv     RedisKV
	ttl    time.Duration
	logger Logger
}

// NewCachedQTableStore wraps next with a redis cache. A ttl of zero keeps
// entries until the next Save.
func NewCachedQTableStore(next QTableStore, kv RedisKV, ttl time.Duration, logger Logger) *CachedQTableStore {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CachedQTableStore{next: next, kv: kv, ttl: ttl, logger: logger}
}

// Load returns the cached table, or loads it from the backing store and
// caches it.
func (c *CachedQTableStore) Load(ctx context.Context, plantID string) (QTable, error) {
	key := qTableKeyPrefix + plantID

	raw, err := c.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		table := QTable{}
		if jsonErr := json.Unmarshal(raw, &table); jsonErr == nil {
			return table, nil
		}
		c.logger.Warn("discarding corrupt cached q-table", "plant_id", plantID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("q-table cache read failed", "plant_id", plantID, "error", err)
	}

	table, err := c.next.Load(ctx, plantID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, plantID, table)
	return table, nil
}

// Save writes through to the backing store, then refreshes the cache.
func (c *CachedQTableStore) Save(ctx context.Context, plantID string, table QTable) error {
	if err := c.next.Save(ctx, plantID, table); err != nil {
		if delErr := c.kv.Del(ctx, qTableKeyPrefix+plantID).Err(); delErr != nil {
			c.logger.Warn("q-table cache invalidation failed", "plant_id", plantID, "error", delErr)
		}
		return err
	}
	c.put(ctx, plantID, table)
	return nil
}

func (c *CachedQTableStore) put(ctx context.Context, plantID string, table QTable) {
	raw, err := json.Marshal(table)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, qTableKeyPrefix+plantID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("q-table cache write failed", "plant_id", plantID, "error", err)
	}
}
