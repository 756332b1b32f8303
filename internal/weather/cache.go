package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"
)

// CacheKey folds case and whitespace so "paris" and " PARIS " share an entry.
func CacheKey(city string) string {
	return "weather:" + cases.Fold().String(strings.Join(strings.Fields(city), " "))
}

// DisplayName title-cases a user supplied city name.
func DisplayName(city string) string {
	return cases.Title(language.Und).String(strings.Join(strings.Fields(city), " "))
}

// Cache stores reports by key.
type Cache interface {
	Get(ctx context.Context, key string) (Report, bool, error)
	Set(ctx context.Context, key string, rep Report, ttl time.Duration) error
}

// redisAPI is the subset of redis.Cmdable used by RedisCache.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache keeps reports as JSON strings in Redis.
type RedisCache struct {
	rdb     redisAPI
	timeout time.Duration
}

// NewRedisCache wraps rdb; each call is bounded by timeout.
func NewRedisCache(rdb redisAPI, timeout time.Duration) *RedisCache {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisCache{rdb: rdb, timeout: timeout}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Report, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, fmt.Errorf("weather cache get: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Report{}, false, fmt.Errorf("weather cache decode: %w", err)
	}
	return rep, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, rep Report, ttl time.Duration) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("weather cache set: %w", err)
	}
	return nil
}

// CachedFetcher serves repeated lookups from a Cache. Cache failures are logged
// and the lookup falls through to the upstream fetcher.
type CachedFetcher struct {
	Next    Fetcher
	Cache   Cache
	TTL     time.Duration
	Metrics *metrics.Metrics
}

func (f *CachedFetcher) Fetch(ctx context.Context, city string) (Report, error) {
	key := CacheKey(city)
	rep, ok, err := f.Cache.Get(ctx, key)
	switch {
	case err != nil:
		logger.LogEvent(ctx, logger.SVCWeather, slog.LevelWarn, "weather.cache",
			slog.String("status", "fail"),
			slog.String("op", "get"),
			slog.String("err", logger.ErrText(err)),
		)
	case ok:
		f.Metrics.IncWeather("cache_hit")
		logger.LogEvent(ctx, logger.SVCWeather, slog.LevelDebug, "weather.cache",
			slog.String("cache", "hit"),
			slog.String("city", logger.SanitizeLimit(city, 64)),
		)
		return rep, nil
	}

	rep, err = f.Next.Fetch(ctx, city)
	if err != nil {
		return Report{}, err
	}
	if err := f.Cache.Set(ctx, key, rep, f.TTL); err != nil {
		logger.LogEvent(ctx, logger.SVCWeather, slog.LevelWarn, "weather.cache",
			slog.String("status", "fail"),
			slog.String("op", "set"),
			slog.String("err", logger.ErrText(err)),
		)
	}
	return rep, nil
}
