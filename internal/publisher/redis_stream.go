package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/participant"
)

// Stream names.
const (
	ParticipantsStream = "flowscrape.participants"
	EventsStream       = "flowscrape.events"
)

// streamMaxLen caps each stream (approximate trimming).
const streamMaxLen = 100000

// RedisPublisher publishes extracted records and event outcomes to Redis
// streams.
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisPublisher creates a new Redis stream publisher
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
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

	return NewRedisStreamPublisher(client), nil
}

// NewRedisStreamPublisher creates a publisher from an existing client
func NewRedisStreamPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, timeout: 2 * time.Second}
}

// Close closes the Redis connection
func (rp *RedisPublisher) Close() error {
	return rp.client.Close()
}

func (rp *RedisPublisher) publish(ctx context.Context, stream, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return rp.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":       key,
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
}

// PublishParticipant publishes one extracted record, keyed by event id
func (rp *RedisPublisher) PublishParticipant(ctx context.Context, eventID string, rec participant.Record) error {
	return rp.publish(ctx, ParticipantsStream, eventID, rec)
}

// PublishEventResult publishes an event's terminal outcome
func (rp *RedisPublisher) PublishEventResult(ctx context.Context, res crawl.EventResult) error {
	return rp.publish(ctx, EventsStream, res.Key, res)
}

// Reporter adapts the publisher to crawl.Reporter. Publish failures are
// logged and never reach the crawl.
type Reporter struct {
	crawl.NopReporter
	pub    *RedisPublisher
	logger *zap.Logger
}

func NewReporter(pub *RedisPublisher, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{pub: pub, logger: logger}
}

func (r *Reporter) OnParticipant(ev eventsource.Event, rec participant.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.pub.timeout)
	defer cancel()
	if err := r.pub.PublishParticipant(ctx, ev.ID, rec); err != nil {
		r.logger.Warn("⚠️  Failed to publish participant", zap.String("pid", rec.BinomID), zap.Error(err))
	}
}

func (r *Reporter) OnEventComplete(_ eventsource.Event, res crawl.EventResult) {
	ctx, cancel := context.WithTimeout(context.Background(), r.pub.timeout)
	defer cancel()
	if err := r.pub.PublishEventResult(ctx, res); err != nil {
		r.logger.Warn("⚠️  Failed to publish event result", zap.String("event", res.Key), zap.Error(err))
	}
}
