package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/runstate"
)

// Reporter mirrors the crawl into PostgreSQL as it happens. Write failures
// are logged; the JSON checkpoint stays authoritative.
type Reporter struct {
	crawl.NopReporter
	events       *EventRepository
	participants *ParticipantRepository
	timeout      time.Duration
	logger       *zap.Logger
}

func NewReporter(events *EventRepository, participants *ParticipantRepository, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{events: events, participants: participants, timeout: 5 * time.Second, logger: logger}
}

func infoOf(ev eventsource.Event) runstate.EventInfo {
	return runstate.EventInfo{
		EventID:         ev.ID,
		EventName:       ev.Name,
		Dates:           ev.Dates,
		Club:            ev.Club,
		Place:           ev.Place,
		ParticipantsURL: ev.ParticipantsURL,
	}
}

func (r *Reporter) OnEventStart(ev eventsource.Event, _, _ int) {
	info := infoOf(ev)
	if info.Key() == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.events.Upsert(ctx, info); err != nil {
		r.logger.Warn("⚠️  Failed to mirror event", zap.String("event", info.Key()), zap.Error(err))
	}
}

func (r *Reporter) OnParticipant(ev eventsource.Event, rec participant.Record) {
	key := infoOf(ev).Key()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.participants.Upsert(ctx, key, rec); err != nil {
		r.logger.Warn("⚠️  Failed to mirror participant", zap.String("pid", rec.BinomID), zap.Error(err))
	}
}

func (r *Reporter) OnEventComplete(ev eventsource.Event, res crawl.EventResult) {
	info := infoOf(ev)
	if info.Key() == "" {
		return
	}
	info.Status = res.Status
	info.TotalParticipants = res.Total
	info.PagesProcessed = res.Pages
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.events.Upsert(ctx, info); err != nil {
		r.logger.Warn("⚠️  Failed to mirror event result", zap.String("event", info.Key()), zap.Error(err))
	}
}
