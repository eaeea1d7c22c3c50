package config

// Redis backs the sweeper locks and the rate limiter.  If the server cannot
// be reached at startup NewRedisClient returns nil and callers degrade
// gracefully: locks fall back to the database and rate limiting is off.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection settings.
//
//	REDIS_ADDR – host:port (REDIS_HOST and REDIS_PORT take precedence when both are set)
//	REDIS_PASSWORD – optional password
//	REDIS_DB – database number (default 0)
//	REDIS_TLS – enable TLS when "true" or "1"
//	REDIS_ENABLED – set to false to skip Redis entirely
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TLS      bool
}

func loadRedis(l *loader) RedisConfig {
	addr := l.envStr("REDIS_ADDR", "localhost:6379")
	if host, port := l.get("REDIS_HOST"), l.get("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	return RedisConfig{
		Enabled:  l.envBool("REDIS_ENABLED", true),
		Addr:     addr,
		Password: l.get("REDIS_PASSWORD"),
		DB:       l.envInt("REDIS_DB", 0),
		TLS:      l.envBool("REDIS_TLS", false),
	}
}

// NewRedisClient connects to Redis.  The returned client is nil when Redis
// is disabled or the ping fails.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConf,
	})
	// Ping the server with a short timeout.  Return nil on failure.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
