// Package entitlement caches subscription limits in Redis so that a
// checkout does not hit the subscriptions table every time.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// noneMarker is cached for members without an active subscription.
const noneMarker = "none"

// Cache is a read-through EntitlementProvider.  Redis failures are
// logged and the lookup falls through to the wrapped provider.
type Cache struct {
	next circulation.EntitlementProvider
	rdb  *redis.Client
	cfg  config.EntitlementCacheConfig
	log  *slog.Logger
}

var _ circulation.EntitlementProvider = (*Cache)(nil)

// NewCache wraps next.  With a nil client or a disabled config it
// returns next unchanged.
func NewCache(next circulation.EntitlementProvider, rdb *redis.Client, cfg config.EntitlementCacheConfig, log *slog.Logger) circulation.EntitlementProvider {
	if rdb == nil || !cfg.Enabled {
		return next
	}
	return &Cache{next: next, rdb: rdb, cfg: cfg, log: log}
}

func (c *Cache) key(userID uint64) string {
	return fmt.Sprintf("%s:user:%d", c.cfg.Prefix, userID)
}

// ActiveEntitlement implements circulation.EntitlementProvider.
func (c *Cache) ActiveEntitlement(ctx context.Context, userID uint64) (model.Entitlement, error) {
	key := c.key(userID)
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && raw == noneMarker:
		return model.Entitlement{}, circulation.ErrNoEntitlement
	case err == nil:
		var ent model.Entitlement
		if jerr := json.UnmarshalFromString(raw, &ent); jerr == nil {
			return ent, nil
		}
		c.log.Warn("entitlement: dropping unreadable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("entitlement: cache read failed", "key", key, "err", err)
	}

	ent, err := c.next.ActiveEntitlement(ctx, userID)
	switch {
	case errors.Is(err, circulation.ErrNoEntitlement):
		c.store(ctx, key, noneMarker, c.cfg.NegativeTTL)
		return ent, err
	case err != nil:
		return ent, err
	}
	if s, jerr := json.MarshalToString(ent); jerr == nil {
		c.store(ctx, key, s, c.cfg.TTL)
	}
	return ent, nil
}

// Invalidate forgets the cached answer for a member, e.g. after their
// plan changed.
func (c *Cache) Invalidate(ctx context.Context, userID uint64) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}

func (c *Cache) store(ctx context.Context, key, val string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		c.log.Warn("entitlement: cache write failed", "key", key, "err", err)
	}
}
