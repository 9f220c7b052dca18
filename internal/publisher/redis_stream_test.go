package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/participant"
)

func newPublisher(t *testing.T) (*RedisPublisher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { reader.Close() })
	return pub, reader
}

func TestReporterPublishesRecords(t *testing.T) {
	pub, reader := newPublisher(t)
	rep := NewReporter(pub, zaptest.NewLogger(t))
	ctx := context.Background()

	ev := eventsource.Event{ID: "e1", Name: "Open"}
	rec := participant.Record{
		EventID: "e1",
		BinomID: "p1",
		Fields:  participant.FieldMap{participant.KeyPerro: "Kira"},
	}
	rep.OnParticipant(ev, rec)
	rep.OnEventComplete(ev, crawl.EventResult{Key: "u1", EventID: "e1", Status: "ok", Total: 1})

	entries, err := reader.XRange(ctx, ParticipantsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].Values["key"])

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &got))
	assert.Equal(t, "p1", got["BinomID"])
	assert.Equal(t, "Kira", got["Perro"])

	events, err := reader.XRange(ctx, EventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].Values["key"])
}

func TestNewRedisPublisherRejectsBadURL(t *testing.T) {
	_, err := NewRedisPublisher("not-a-url")
	assert.Error(t, err)
}

func TestReporterSwallowsErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher("redis://" + mr.Addr())
	require.NoError(t, err)
	mr.Close()

	rep := NewReporter(pub, zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		rep.OnParticipant(eventsource.Event{ID: "e1"}, participant.Record{BinomID: "p1"})
	})
}
