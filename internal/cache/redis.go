package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/models"
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	TTL         time.Duration
	DialTimeout time.Duration
}

// Redis is a ResultCache shared between processes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ ResultCache = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})

	pctx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %v: %w", cfg.Addr, err, apperr.ErrStoreUnavailable)
	}

	return &Redis{client: client, ttl: ttlOrDefault(cfg.TTL), logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, q models.Query) (*models.QueryResult, bool) {
	data, err := r.client.Get(ctx, Key(q)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("cache: redis get failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var res models.QueryResult
	if err := json.Unmarshal(data, &res); err != nil {
		r.logger.Warn("cache: redis decode failed", slog.String("error", err.Error()))
		return nil, false
	}
	return &res, true
}

func (r *Redis) Set(ctx context.Context, q models.Query, res *models.QueryResult) error {
	if res == nil {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	if err := r.client.Set(ctx, Key(q), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, program, regulation string) error {
	iter := r.client.Scan(ctx, 0, partition(program, regulation)+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
