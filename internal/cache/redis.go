package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
)

// ErrMiss is returned when a key is not cached.
var ErrMiss = errors.New("cache miss")

// EventStatusTTL is how long a terminal event status is kept.
const EventStatusTTL = 7 * 24 * time.Hour

// RedisCache handles caching and fast state storage
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisCache{
		client: client,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Client returns the underlying Redis client
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}

// HealthCheck pings Redis to verify connection
func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func eventStatusKey(eventKey string) string {
	return "flowscrape:event:" + eventKey + ":status"
}

// SetEventStatus caches an event's terminal status
func (rc *RedisCache) SetEventStatus(ctx context.Context, eventKey, status string) error {
	return rc.client.Set(ctx, eventStatusKey(eventKey), status, EventStatusTTL).Err()
}

// GetEventStatus returns the cached status, or ErrMiss
func (rc *RedisCache) GetEventStatus(ctx context.Context, eventKey string) (string, error) {
	v, err := rc.client.Get(ctx, eventStatusKey(eventKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Reporter caches every event's terminal status as the crawl finishes it.
type Reporter struct {
	crawl.NopReporter
	cache  *RedisCache
	logger *zap.Logger
}

func NewReporter(c *RedisCache, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{cache: c, logger: logger}
}

func (r *Reporter) OnEventComplete(_ eventsource.Event, res crawl.EventResult) {
	if res.Key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.cache.SetEventStatus(ctx, res.Key, res.Status); err != nil {
		r.logger.Warn("⚠️  Failed to cache event status", zap.String("event", res.Key), zap.Error(err))
	}
}
