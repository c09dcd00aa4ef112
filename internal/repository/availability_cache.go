package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// AvailabilityCache keeps the derived per-section availability of an event
// in Redis.  Entries are invalidated after every committed transition and
// repopulated on the next read.  Each invalidation bumps a per-event
// generation, and a fill only lands if the generation it read before
// loading seats is still current, so a slow reader cannot put back a
// snapshot older than a commit it raced with.  A nil client disables the
// cache.
type AvailabilityCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAvailabilityCache returns a cache with the given TTL.  rdb may be nil.
func NewAvailabilityCache(rdb *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AvailabilityCache{rdb: rdb, ttl: ttl}
}

// AvailabilityKey is the Redis key of an event's availability snapshot.
func AvailabilityKey(eventID string) string { return "seat:avail:" + eventID }

// GenerationKey is the Redis key of an event's invalidation counter.
func GenerationKey(eventID string) string { return "seat:avail:gen:" + eventID }

// KEYS[1] snapshot, KEYS[2] generation; ARGV generation, payload, ttl ms.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
return 1
`)

// Get returns the cached snapshot and whether it was present.
func (c *AvailabilityCache) Get(ctx context.Context, eventID string) (*model.Availability, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, AvailabilityKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var a model.Availability
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

// Generation returns the current invalidation counter of an event.  Read
// it before loading the seats a snapshot is computed from.
func (c *AvailabilityCache) Generation(ctx context.Context, eventID string) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}
	gen, err := c.rdb.Get(ctx, GenerationKey(eventID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set stores a snapshot with the configured TTL unless the event was
// invalidated since gen was read.  It reports whether the snapshot was
// stored.
func (c *AvailabilityCache) Set(ctx context.Context, a model.Availability, gen int64) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	keys := []string{AvailabilityKey(a.EventID), GenerationKey(a.EventID)}
	stored, err := fillScript.Run(ctx, c.rdb, keys, strconv.FormatInt(gen, 10), string(payload), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Invalidate drops the snapshot of an event and bumps its generation.
func (c *AvailabilityCache) Invalidate(ctx context.Context, eventID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return invalidateScript.Run(ctx, c.rdb, []string{AvailabilityKey(eventID), GenerationKey(eventID)}).Err()
}
