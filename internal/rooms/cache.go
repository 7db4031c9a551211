package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/nurture-engine/internal/domain"
)

type thresholdCache interface {
	get(ctx context.Context, clientID int64) (domain.Thresholds, bool)
	put(ctx context.Context, clientID int64, t domain.Thresholds)
}

// redisThresholdCache shares cached thresholds across instances. Cache
// errors are treated as misses; the store is the source of truth.
type redisThresholdCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func (c *redisThresholdCache) key(clientID int64) string {
	return fmt.Sprintf("rooms:thresholds:%d", clientID)
}

func (c *redisThresholdCache) get(ctx context.Context, clientID int64) (domain.Thresholds, bool) {
	data, err := c.redis.Get(ctx, c.key(clientID)).Bytes()
	if err != nil {
		return domain.Thresholds{}, false
	}
	var t domain.Thresholds
	if json.Unmarshal(data, &t) != nil {
		return domain.Thresholds{}, false
	}
	return t, true
}

func (c *redisThresholdCache) put(ctx context.Context, clientID int64, t domain.Thresholds) {
	data, _ := json.Marshal(t)
	c.redis.Set(ctx, c.key(clientID), data, c.ttl)
}

// memThresholdCache is the single-instance fallback when Redis is not
// configured.
type memThresholdCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]memThresholdEntry
	now     func() time.Time
}

type memThresholdEntry struct {
	t       domain.Thresholds
	expires time.Time
}

func newMemThresholdCache(ttl time.Duration) *memThresholdCache {
	return &memThresholdCache{
		ttl:     ttl,
		entries: make(map[int64]memThresholdEntry),
		now:     time.Now,
	}
}

func (c *memThresholdCache) get(_ context.Context, clientID int64) (domain.Thresholds, bool) {
	c.mu.RLock()
	e, ok := c.entries[clientID]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return domain.Thresholds{}, false
	}
	return e.t, true
}

func (c *memThresholdCache) put(_ context.Context, clientID int64, t domain.Thresholds) {
	c.mu.Lock()
	c.entries[clientID] = memThresholdEntry{t: t, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
