package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahirjain10/go-resizer/internal/metrics"
	"github.com/mahirjain10/go-resizer/internal/types"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultTimeout  = 500 * time.Millisecond
)

// RedisCache is the ephemeral tier. Payloads are stored base64 encoded with
// SETEX. Every failure degrades to a miss; nothing is returned to callers.
type RedisCache struct {
	client   *redis.Client
	timeout  time.Duration
	observer *metrics.Observer
	logger   *slog.Logger
}

// NewRedisCache builds the client. An unreachable server is logged, not
// returned: the cache is optional for correctness and may come up later.
func NewRedisCache(url string, timeout time.Duration, observer *metrics.Observer, logger *slog.Logger) (*RedisCache, error) {
	if url == "" {
		url = defaultRedisURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	opts.MaxRetries = 1

	c := &RedisCache{
		client:   redis.NewClient(opts),
		timeout:  timeout,
		observer: observer,
		logger:   logger,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		logger.Warn("ephemeral cache unreachable, continuing without it", "err", err)
	}
	return c, nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns the cached payload, or false on a miss, timeout or transport error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	encoded, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.observer.TierOp(metrics.TierEphemeral, "get", metrics.OutcomeMiss)
		return nil, false
	}
	if err != nil {
		c.degraded("get", key, err)
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.observer.TierOp(metrics.TierEphemeral, "get", metrics.OutcomeError)
		c.logger.Warn("discarding undecodable cache entry", "tier", metrics.TierEphemeral, "key", key, "err", err)
		return nil, false
	}
	c.observer.TierOp(metrics.TierEphemeral, "get", metrics.OutcomeHit)
	return data, true
}

// Put stores data for ttl. Failures are logged and swallowed.
func (c *RedisCache) Put(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = types.CacheTTL
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.SetEx(ctx, key, base64.StdEncoding.EncodeToString(data), ttl).Err(); err != nil {
		c.degraded("put", key, err)
		return
	}
	c.observer.TierOp(metrics.TierEphemeral, "put", metrics.OutcomeOK)
}

func (c *RedisCache) degraded(op, key string, err error) {
	outcome := metrics.OutcomeError
	if isTimeout(err) {
		outcome = metrics.OutcomeTimeout
	}
	c.observer.TierOp(metrics.TierEphemeral, op, outcome)
	c.logger.Warn("ephemeral cache degraded to miss",
		"tier", metrics.TierEphemeral, "op", op, "key", key, "kind", outcome,
		"err", fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
