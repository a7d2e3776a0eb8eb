package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	keyPrefix     = "ledgerd:fx:"
	defaultTTL    = 6 * time.Hour
	missingMarker = "-"
)

// RateCache memoizes "rate in effect on date D" resolutions. Entries are
// keyed by a per-pair version so Invalidate hides every earlier resolution
// at once.
//
// Get returns the key it resolved against. A caller that falls back to the
// database passes that key to Set, so a read that raced an Invalidate is
// stored under a version nobody reads anymore.
type RateCache interface {
	// Get returns the cached resolution. found=false means not cached;
	// found=true with ok=false means "no rate" was cached. key is empty when
	// the version could not be read, and Set ignores an empty key.
	Get(ctx context.Context, pair string, date time.Time) (rate decimal.Decimal, ok bool, found bool, key string)
	Set(ctx context.Context, key string, rate decimal.Decimal, ok bool)
	Invalidate(ctx context.Context, pair string) error
}

// Noop is used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, string, time.Time) (decimal.Decimal, bool, bool, string) {
	return decimal.Zero, false, false, ""
}

func (Noop) Set(context.Context, string, decimal.Decimal, bool) {}

func (Noop) Invalidate(context.Context, string) error { return nil }

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a Redis-backed cache. A nil client yields Noop.
func NewRedis(client *redis.Client, ttl time.Duration) RateCache {
	if client == nil {
		return Noop{}
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisCache{client: client, ttl: ttl}
}

func versionKey(pair string) string {
	return keyPrefix + "ver:" + pair
}

func (c *redisCache) resolutionKey(ctx context.Context, pair string, date time.Time) (string, error) {
	ver, err := c.client.Get(ctx, versionKey(pair)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, pair, ver, date.UTC().Format("2006-01-02")), nil
}

func (c *redisCache) Get(ctx context.Context, pair string, date time.Time) (decimal.Decimal, bool, bool, string) {
	key, err := c.resolutionKey(ctx, pair, date)
	if err != nil {
		return decimal.Zero, false, false, ""
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return decimal.Zero, false, false, key
	}
	if raw == missingMarker {
		return decimal.Zero, false, true, key
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, false, key
	}
	return rate, true, true, key
}

func (c *redisCache) Set(ctx context.Context, key string, rate decimal.Decimal, ok bool) {
	if key == "" {
		return
	}
	value := missingMarker
	if ok {
		value = rate.String()
	}
	_ = c.client.Set(ctx, key, value, c.ttl).Err()
}

func (c *redisCache) Invalidate(ctx context.Context, pair string) error {
	return c.client.Incr(ctx, versionKey(pair)).Err()
}
