package config

import (
	"strings"
	"time"
)

// RateLimitConfig drives the token bucket in front of the API.  The
// bucket lives in Redis when a client is available and in process
// otherwise.  RoleCapacity overrides Capacity for callers whose token
// carries that role (RATE_LIMIT_ROLE_CAPACITY="LIBRARIAN=240").
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RoleCapacity   map[string]int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  RATE_LIMIT_BURST and
// RATE_LIMIT_REFILL_EVERY are accepted as shorthands for the capacity and
// a one-token refill interval.
func LoadRateLimitConfig() RateLimitConfig {
	c := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RoleCapacity:   envPairs("RATE_LIMIT_ROLE_CAPACITY"),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		c.Capacity = b
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		c.RefillTokens = 1
		c.RefillInterval = every
	}
	return c.Normalize()
}

// Normalize clamps out-of-range values.  The TTL never drops below five
// refill intervals so a bucket is not forgotten while it is refilling.
func (c RateLimitConfig) Normalize() RateLimitConfig {
	c.Capacity = max(c.Capacity, 1)
	c.RefillTokens = max(c.RefillTokens, 1)
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	c.TTL = max(c.TTL, 5*c.RefillInterval)
	roles := make(map[string]int, len(c.RoleCapacity))
	for role, n := range c.RoleCapacity {
		if n > 0 {
			roles[strings.ToUpper(role)] = n
		}
	}
	c.RoleCapacity = roles
	return c
}

// CapacityFor returns the bucket size for a caller with the given role.
func (c RateLimitConfig) CapacityFor(role string) int {
	if n, ok := c.RoleCapacity[strings.ToUpper(role)]; ok {
		return n
	}
	return c.Capacity
}
