package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// DefaultKeyPrefix namespaces record keys in redis.
const DefaultKeyPrefix = "duckprof:record:"

// Config holds the configuration for the cache.
type Config struct {
	// Backend is memory, redis or none.
	Backend string `mapstructure:"backend"`
	// MaxEntries bounds the memory backend.
	MaxEntries int `mapstructure:"max_entries"`
	// TTL is the time-to-live for cache entries; zero means no expiry.
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendMemory,
		MaxEntries: 1024,
		TTL:        0,
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			KeyPrefix:   DefaultKeyPrefix,
			DialTimeout: 5 * time.Second,
		},
	}
}

// WithBackend sets the backend.
func (c *Config) WithBackend(backend string) *Config {
	c.Backend = backend
	return c
}

// WithMaxEntries sets the maximum number of cached records.
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithTTL sets the time-to-live for cache entries.
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// WithRedis sets the redis connection settings.
func (c *Config) WithRedis(r RedisConfig) *Config {
	c.Redis = r
	return c
}

// New builds the configured backend. BackendNone returns a nil Cache.
func New(ctx context.Context, cfg *Config, logger zerolog.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryCache(cfg.MaxEntries, cfg.TTL), nil
	case BackendRedis:
		return NewRedisCache(ctx, cfg.Redis, cfg.TTL, logger)
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
