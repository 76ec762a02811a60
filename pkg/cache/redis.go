package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/models"
)

// clearBatchSize bounds SCAN pages and DEL batches in Clear.
const clearBatchSize = 100

// RedisCache implements Cache on a shared redis instance. Records are stored
// as JSON under KeyPrefix + query id.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  *StatsCollector
	logger zerolog.Logger
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger = logger.With().Str("component", "record_cache").Str("backend", BackendRedis).Logger()
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis cache initialized")

	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		stats:  NewStatsCollector(),
		logger: logger,
	}, nil
}

func (r *RedisCache) key(id int64) string {
	return r.prefix + strconv.FormatInt(id, 10)
}

// Get returns the cached record.
func (r *RedisCache) Get(ctx context.Context, id int64) (*models.QueryRecord, bool, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		r.stats.RecordMiss()
		return nil, false, nil
	}
	if err != nil {
		r.stats.RecordMiss()
		return nil, false, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rec models.QueryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.logger.Warn().Err(err).Int64("query_id", id).Msg("Dropping undecodable cache entry")
		r.client.Del(ctx, r.key(id))
		r.stats.RecordMiss()
		return nil, false, nil
	}

	r.stats.RecordHit()
	return &rec, true, nil
}

// Put stores rec as JSON.
func (r *RedisCache) Put(ctx context.Context, rec *models.QueryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.QueryID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Clear removes every key under the prefix. Other keys in the database are left alone.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", clearBatchSize).Iterator()

	batch := make([]string, 0, clearBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to clear redis keys: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan redis keys: %w", err)
	}
	return flush()
}

// Stats returns the cache statistics of this process.
func (r *RedisCache) Stats() Stats {
	return r.stats.GetStats()
}

// Close closes the redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
