package crawl

import (
	"time"

	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/participant"
)

// EventResult is the outcome of one event.
type EventResult struct {
	Key             string        `json:"key"`
	EventID         string        `json:"event_id"`
	Status          string        `json:"status"`
	NewParticipants int           `json:"new_participants"`
	Total           int           `json:"total"`
	Resumed         int           `json:"resumed"`
	Skipped         int           `json:"skipped"`
	Pages           int           `json:"pages"`
	Duration        time.Duration `json:"duration"`
}

// Summary describes a finished run.
type Summary struct {
	Events          int            `json:"events"`
	NewParticipants int            `json:"new_participants"`
	Statuses        map[string]int `json:"statuses"`
	StopReason      string         `json:"stop_reason,omitempty"`
	Duration        time.Duration  `json:"duration"`
}

// Reporter receives lifecycle callbacks from the crawler. All calls come
// from the crawl goroutine.
type Reporter interface {
	OnRunStart(totalEvents int)
	OnEventStart(ev eventsource.Event, index, total int)
	OnPageStart(ev eventsource.Event, page, totalPages int)
	OnParticipant(ev eventsource.Event, rec participant.Record)
	OnParticipantSkipped(ev eventsource.Event, pid string, reason error)
	OnEventComplete(ev eventsource.Event, result EventResult)
	OnRunComplete(summary Summary)
	OnRunError(err error)
}

// NopReporter ignores every callback. Embed it to implement only some.
type NopReporter struct{}

func (NopReporter) OnRunStart(int)                                        {}
func (NopReporter) OnEventStart(eventsource.Event, int, int)              {}
func (NopReporter) OnPageStart(eventsource.Event, int, int)               {}
func (NopReporter) OnParticipant(eventsource.Event, participant.Record)   {}
func (NopReporter) OnParticipantSkipped(eventsource.Event, string, error) {}
func (NopReporter) OnEventComplete(eventsource.Event, EventResult)        {}
func (NopReporter) OnRunComplete(Summary)                                 {}
func (NopReporter) OnRunError(error)                                      {}

// MultiReporter fans callbacks out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) OnRunStart(total int) {
	for _, r := range m {
		r.OnRunStart(total)
	}
}

func (m MultiReporter) OnEventStart(ev eventsource.Event, index, total int) {
	for _, r := range m {
		r.OnEventStart(ev, index, total)
	}
}

func (m MultiReporter) OnPageStart(ev eventsource.Event, page, totalPages int) {
	for _, r := range m {
		r.OnPageStart(ev, page, totalPages)
	}
}

func (m MultiReporter) OnParticipant(ev eventsource.Event, rec participant.Record) {
	for _, r := range m {
		r.OnParticipant(ev, rec)
	}
}

func (m MultiReporter) OnParticipantSkipped(ev eventsource.Event, pid string, reason error) {
	for _, r := range m {
		r.OnParticipantSkipped(ev, pid, reason)
	}
}

func (m MultiReporter) OnEventComplete(ev eventsource.Event, result EventResult) {
	for _, r := range m {
		r.OnEventComplete(ev, result)
	}
}

func (m MultiReporter) OnRunComplete(summary Summary) {
	for _, r := range m {
		r.OnRunComplete(summary)
	}
}

func (m MultiReporter) OnRunError(err error) {
	for _, r := range m {
		r.OnRunError(err)
	}
}

// LogReporter writes progress to a zap logger.
type LogReporter struct {
	Logger *zap.Logger
}

func (r LogReporter) OnRunStart(total int) {
	r.Logger.Info("🚀 Starting participant extraction", zap.Int("events", total))
}

func (r LogReporter) OnEventStart(ev eventsource.Event, index, total int) {
	r.Logger.Info("Processing event",
		zap.Int("index", index),
		zap.Int("total", total),
		zap.String("event", ev.Name),
		zap.String("url", ev.ParticipantsURL),
	)
}

func (r LogReporter) OnPageStart(ev eventsource.Event, page, totalPages int) {
	r.Logger.Info("  📖 Page", zap.Int("page", page), zap.Int("pages", totalPages))
}

func (r LogReporter) OnParticipant(ev eventsource.Event, rec participant.Record) {
	r.Logger.Debug("  ✓ Participant",
		zap.String("pid", rec.BinomID),
		zap.String("dorsal", rec.Field(participant.KeyDorsal)),
		zap.String("dog", rec.Field(participant.KeyPerro)),
	)
}

func (r LogReporter) OnParticipantSkipped(ev eventsource.Event, pid string, reason error) {
	r.Logger.Warn("  ⚠️  Participant skipped", zap.String("pid", pid), zap.Error(reason))
}

func (r LogReporter) OnEventComplete(ev eventsource.Event, result EventResult) {
	r.Logger.Info("✓ Event finished",
		zap.String("event", ev.Name),
		zap.String("status", result.Status),
		zap.Int("new", result.NewParticipants),
		zap.Int("total", result.Total),
		zap.Int("pages", result.Pages),
		zap.Duration("took", result.Duration),
	)
}

func (r LogReporter) OnRunComplete(summary Summary) {
	r.Logger.Info("✓ Run complete",
		zap.Int("events", summary.Events),
		zap.Int("new_participants", summary.NewParticipants),
		zap.Any("statuses", summary.Statuses),
		zap.String("stop_reason", summary.StopReason),
		zap.Duration("took", summary.Duration),
	)
}

func (r LogReporter) OnRunError(err error) {
	r.Logger.Error("❌ Run aborted", zap.Error(err))
}
