// SPDX-License-Identifier: MIT

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/chartgw/internal/metrics"
)

const redisKeyPrefix = "chartgw:image:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisStore keeps images in Redis hashes with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	hits, misses, puts atomic.Int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, ttl time.Duration, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis image store")

	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

func (r *RedisStore) Backend() string { return "redis" }

func (r *RedisStore) Put(ctx context.Context, id string, img Image) (err error) {
	defer func() { metrics.RecordImageStoreOp("redis", "put", result(err)) }()
	if err := checkID(id); err != nil {
		return err
	}

	key := redisKeyPrefix + id
	created := img.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"content_type", img.ContentType,
			"data", img.Data,
			"created_at", created.UnixMilli(),
		)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis put failed")
		return fmt.Errorf("redis put %s: %w", id, err)
	}
	r.puts.Add(1)
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (img Image, err error) {
	defer func() { metrics.RecordImageStoreOp("redis", "get", result(err)) }()

	key := redisKeyPrefix + id
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return Image{}, fmt.Errorf("redis get %s: %w", id, err)
	}
	data, ok := vals["data"]
	if !ok {
		r.misses.Add(1)
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	img = Image{Data: []byte(data), ContentType: vals["content_type"]}
	if ms, perr := strconv.ParseInt(vals["created_at"], 10, 64); perr == nil {
		img.CreatedAt = time.UnixMilli(ms).UTC()
	}
	r.hits.Add(1)
	return img, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	return nil
}

// Stats returns counters; CurrentSize counts keys under the image prefix.
func (r *RedisStore) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	size := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("redis scan failed")
	}

	return Stats{
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		Puts:        r.puts.Load(),
		CurrentSize: size,
	}
}

// HealthCheck checks if Redis is available.
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
