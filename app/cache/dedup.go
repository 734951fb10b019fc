package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PixelMoon99/storefront-payments/app/factory"
)

const dedupKeyPrefix = "webhook:dedup:"

// DedupCache is a best-effort fast path in front of the durable
// (gateway, event_key) unique index. Redis being down only costs the
// shortcut; correctness stays with MySQL.
type DedupCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewDedupCache(client *redis.Client, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupCache{
		client: client,
		ttl:    ttl,
		logger: factory.NewModuleLogger("dedup-cache"),
	}
}

// FirstSeen claims the key and reports whether this delivery is the
// first one observed. Errors are logged and treated as first-seen so
// the caller falls through to the database check.
func (c *DedupCache) FirstSeen(ctx context.Context, gateway, eventKey string) bool {
	set, err := c.client.SetNX(ctx, dedupKeyPrefix+gateway+":"+eventKey, 1, c.ttl).Result()
	if err != nil {
		c.logger.WithError(err).WithField("gateway", gateway).Warn("Dedup cache unavailable")
		return true
	}
	return set
}

// Forget releases a claimed key after a processing failure so the
// gateway's retry is not misread as a duplicate.
func (c *DedupCache) Forget(ctx context.Context, gateway, eventKey string) {
	if err := c.client.Del(ctx, dedupKeyPrefix+gateway+":"+eventKey).Err(); err != nil {
		c.logger.WithError(err).WithField("gateway", gateway).Warn("Dedup cache release failed")
	}
}
