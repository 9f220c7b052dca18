package progress

import (
	"sync"
	"time"

	"github.com/fortuna/flowscrape/internal/crawl"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/participant"
)

// Phase is the lifecycle state of a run.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

const historyLimit = 20

// EventProgress is the live view of one event.
type EventProgress struct {
	Key             string     `json:"key"`
	EventID         string     `json:"event_id"`
	Name            string     `json:"name"`
	Index           int        `json:"index"`
	Status          string     `json:"status,omitempty"`
	Page            int        `json:"page"`
	NewParticipants int        `json:"new_participants"`
	Skipped         int        `json:"skipped"`
	Total           int        `json:"total"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunStatus is returned to API callers.
type RunStatus struct {
	Phase           Phase           `json:"phase"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	TotalEvents     int             `json:"total_events"`
	EventsDone      int             `json:"events_done"`
	NewParticipants int             `json:"new_participants"`
	Skipped         int             `json:"skipped"`
	Statuses        map[string]int  `json:"statuses"`
	StopReason      string          `json:"stop_reason,omitempty"`
	Error           string          `json:"error,omitempty"`
	Current         *EventProgress  `json:"current,omitempty"`
	Recent          []EventProgress `json:"recent_events,omitempty"`
}

// Tracker keeps the state of the current run in memory. It implements
// crawl.Reporter; snapshots may be read from any goroutine.
type Tracker struct {
	mu     sync.RWMutex
	status RunStatus
	now    func() time.Time
}

var _ crawl.Reporter = (*Tracker)(nil)

func NewTracker() *Tracker {
	return &Tracker{
		status: RunStatus{Phase: PhaseIdle, Statuses: map[string]int{}},
		now:    time.Now,
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	s.Statuses = make(map[string]int, len(t.status.Statuses))
	for k, v := range t.status.Statuses {
		s.Statuses[k] = v
	}
	if t.status.Current != nil {
		cur := *t.status.Current
		s.Current = &cur
	}
	s.Recent = append([]EventProgress(nil), t.status.Recent...)
	return s
}

func (t *Tracker) OnRunStart(totalEvents int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.status = RunStatus{
		Phase:       PhaseRunning,
		StartedAt:   &now,
		TotalEvents: totalEvents,
		Statuses:    map[string]int{},
	}
}

func (t *Tracker) OnEventStart(ev eventsource.Event, index, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalEvents = total
	t.status.Current = &EventProgress{
		EventID:   ev.ID,
		Name:      ev.Name,
		Index:     index,
		StartedAt: t.now(),
	}
}

func (t *Tracker) OnPageStart(_ eventsource.Event, page, _ int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Current != nil {
		t.status.Current.Page = page
	}
}

func (t *Tracker) OnParticipant(eventsource.Event, participant.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.NewParticipants++
	if t.status.Current != nil {
		t.status.Current.NewParticipants++
	}
}

func (t *Tracker) OnParticipantSkipped(eventsource.Event, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Skipped++
	if t.status.Current != nil {
		t.status.Current.Skipped++
	}
}

func (t *Tracker) OnEventComplete(ev eventsource.Event, res crawl.EventResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	done := EventProgress{EventID: ev.ID, Name: ev.Name, StartedAt: t.now().Add(-res.Duration)}
	if t.status.Current != nil {
		done = *t.status.Current
	}
	now := t.now()
	done.Key = res.Key
	done.Status = res.Status
	done.Page = res.Pages
	done.NewParticipants = res.NewParticipants
	done.Skipped = res.Skipped
	done.Total = res.Total
	done.FinishedAt = &now

	t.status.EventsDone++
	t.status.Statuses[res.Status]++
	t.status.Current = nil
	t.status.Recent = append([]EventProgress{done}, t.status.Recent...)
	if len(t.status.Recent) > historyLimit {
		t.status.Recent = t.status.Recent[:historyLimit]
	}
}

func (t *Tracker) OnRunComplete(summary crawl.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.status.Phase = PhaseCompleted
	t.status.FinishedAt = &now
	t.status.StopReason = summary.StopReason
	t.status.Current = nil
}

func (t *Tracker) OnRunError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.status.Phase = PhaseFailed
	t.status.FinishedAt = &now
	t.status.Current = nil
	if err != nil {
		t.status.Error = err.Error()
	}
}
