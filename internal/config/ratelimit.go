package config

import "time"

// RateLimitConfig configures the Redis token bucket in front of the
// admission and hold endpoints.  It is ignored when Redis is unavailable.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
}

func loadRateLimit(l *loader) RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        l.envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       l.envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   l.envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: l.envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            l.envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    l.envStr("RATE_LIMIT_KEY_STRATEGY", "user_route"),
		Prefix:         l.envStr("RATE_LIMIT_PREFIX", "rl"),
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}
