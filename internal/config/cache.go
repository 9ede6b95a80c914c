package config

import "time"

// EntitlementCacheConfig controls the Redis read-through cache in front
// of the subscription lookup.  When Enabled is false or no Redis client
// is configured, every checkout reads subscriptions directly.  NegativeTTL
// bounds how long "no active subscription" answers are remembered.
type EntitlementCacheConfig struct {
	Enabled     bool
	TTL         time.Duration
	NegativeTTL time.Duration
	Prefix      string
}

// LoadEntitlementCacheConfig reads ENTITLEMENT_CACHE_* variables.
func LoadEntitlementCacheConfig() EntitlementCacheConfig {
	c := EntitlementCacheConfig{
		Enabled:     envBool("ENTITLEMENT_CACHE_ENABLED", true),
		TTL:         envDur("ENTITLEMENT_CACHE_TTL", 5*time.Minute),
		NegativeTTL: envDur("ENTITLEMENT_CACHE_NEGATIVE_TTL", 30*time.Second),
		Prefix:      envStr("ENTITLEMENT_CACHE_PREFIX", "ent"),
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.NegativeTTL <= 0 || c.NegativeTTL > c.TTL {
		c.NegativeTTL = c.TTL
	}
	return c
}
