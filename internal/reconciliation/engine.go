package reconciliation

import (
	"sync"
	"time"

	"github.com/fortuna/flowscrape/internal/participant"
	"go.uber.org/zap"
)

// Engine reconciles the field sets produced by the panel extraction
// strategies. The markup parse is primary, the in-browser walk secondary.
type Engine struct {
	mu      sync.Mutex
	metrics Metrics
	logger  *zap.Logger
}

// Metrics tracks reconciliation statistics
type Metrics struct {
	TotalMerges           int       `json:"total_merges"`
	SecondaryFills        int       `json:"secondary_fills"`
	Conflicts             int       `json:"conflicts"`
	ScheduleFromSecondary int       `json:"schedule_from_secondary"`
	PositionalFallbacks   int       `json:"positional_fallbacks"`
	Mismatches            int       `json:"mismatches"`
	LastMerge             time.Time `json:"last_merge"`
}

// NewEngine creates a new reconciliation engine
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:  logger,
		metrics: Metrics{LastMerge: time.Now()},
	}
}

// Merge combines primary and secondary and records what happened.
func (e *Engine) Merge(primary, secondary participant.Extraction) participant.Extraction {
	merged, stats := merge(primary, secondary)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.TotalMerges++
	e.metrics.LastMerge = time.Now()
	e.metrics.SecondaryFills += stats.fills
	e.metrics.Conflicts += stats.conflicts
	if stats.scheduleFromSecondary {
		e.metrics.ScheduleFromSecondary++
	}

	if stats.conflicts > 0 {
		e.logger.Debug("  ⚠️  Strategies disagree, keeping markup values", zap.Int("conflicts", stats.conflicts))
	}
	return merged
}

// RecordFallback counts a panel that needed the positional strategy.
func (e *Engine) RecordFallback() {
	e.mu.Lock()
	e.metrics.PositionalFallbacks++
	e.mu.Unlock()
}

// RecordMismatch counts a rendered panel where no strategy found anything.
func (e *Engine) RecordMismatch() {
	e.mu.Lock()
	e.metrics.Mismatches++
	e.mu.Unlock()
}

// GetMetrics returns current reconciliation metrics
func (e *Engine) GetMetrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// ResetMetrics resets all metrics
func (e *Engine) ResetMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = Metrics{LastMerge: time.Now()}
}

// Merge returns primary with empty keys filled from secondary. The schedule
// is taken whole from primary when it has any entry, otherwise from
// secondary minus all-empty entries. Rows from the two are never mixed.
func Merge(primary, secondary participant.Extraction) participant.Extraction {
	merged, _ := merge(primary, secondary)
	return merged
}

type mergeStats struct {
	fills                 int
	conflicts             int
	scheduleFromSecondary bool
}

func merge(primary, secondary participant.Extraction) (participant.Extraction, mergeStats) {
	var stats mergeStats
	out := participant.NewExtraction()

	for k, v := range primary.Fields {
		if v != "" {
			out.Fields[k] = v
		}
	}
	for k, v := range secondary.Fields {
		if v == "" {
			continue
		}
		if cur := out.Fields[k]; cur != "" {
			if cur != v {
				stats.conflicts++
			}
			continue
		}
		out.Fields[k] = v
		stats.fills++
	}

	if len(primary.Schedule) > 0 {
		out.Schedule = append([]participant.ScheduleEntry(nil), primary.Schedule...)
		return out, stats
	}
	for _, entry := range secondary.Schedule {
		if entry.IsZero() {
			continue
		}
		out.Schedule = append(out.Schedule, entry)
	}
	stats.scheduleFromSecondary = len(out.Schedule) > 0
	return out, stats
}
