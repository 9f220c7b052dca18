package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/progress"
	"github.com/fortuna/flowscrape/internal/runstate"
)

const version = "1.0.0"

// RunState is the read side of the run state store.
type RunState interface {
	Summaries() []runstate.Snapshot
	Event(id string) (runstate.Snapshot, bool)
	Participants(id string) ([]participant.Record, bool)
	Totals() (events, participants int)
}

// StatusSource reports live run progress.
type StatusSource interface {
	Snapshot() progress.RunStatus
}

// Stopper requests an orderly end of the run.
type Stopper interface {
	Stop()
}

// StatusCache looks up a cached terminal event status.
type StatusCache interface {
	GetEventStatus(ctx context.Context, key string) (string, error)
}

// Deps are the handler's collaborators. Only State is required.
type Deps struct {
	State    RunState
	Progress StatusSource
	Stopper  Stopper
	Cache    StatusCache
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger}
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	events, participants := h.deps.State.Totals()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"service":      "flowscrape",
		"version":      version,
		"events":       events,
		"participants": participants,
	})
}

// GetRunStatus returns the live progress of the current run
func (h *Handler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Progress == nil {
		respondJSON(w, http.StatusOK, progress.RunStatus{Phase: progress.PhaseIdle, Statuses: map[string]int{}})
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Progress.Snapshot())
}

// StopRun asks the crawl to stop after the current participant
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Stopper == nil {
		respondError(w, http.StatusConflict, "No run in progress", nil)
		return
	}
	h.deps.Stopper.Stop()
	h.logger.Info("⏹️  Stop requested over API", zap.String("remote", r.RemoteAddr))
	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Stop requested; state is checkpointed before exit",
	})
}

// GetEvents returns every event in the run state. ?sort=count orders by
// participant count, ?status= filters by terminal status.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events := h.deps.State.Summaries()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Info.Status == status {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if r.URL.Query().Get("sort") == "count" {
		runstate.SortByCount(events)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// GetEvent returns one event's metadata
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDVar(w, r)
	if !ok {
		return
	}
	snap, found := h.deps.State.Event(id)
	if !found {
		respondError(w, http.StatusNotFound, "Event not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GetEventParticipants returns an event's records in output column order.
// ?limit= and ?offset= page through them.
func (h *Handler) GetEventParticipants(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDVar(w, r)
	if !ok {
		return
	}
	records, found := h.deps.State.Participants(id)
	if !found {
		respondError(w, http.StatusNotFound, "Event not found", nil)
		return
	}

	total := len(records)
	offset := queryInt(r, "offset", 0, 0, total)
	limit := queryInt(r, "limit", total, 1, 1000)
	end := offset + limit
	if end > total {
		end = total
	}
	records = records[offset:end]

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":     id,
		"total":        total,
		"offset":       offset,
		"count":        len(records),
		"participants": records,
	})
}

// GetEventStatus returns an event's terminal status, from the cache when
// one is configured, else from the run state.
func (h *Handler) GetEventStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDVar(w, r)
	if !ok {
		return
	}

	snap, found := h.deps.State.Event(id)
	key := id
	if found {
		key = snap.Key
	}

	if h.deps.Cache != nil {
		status, err := h.deps.Cache.GetEventStatus(r.Context(), key)
		if err == nil && status != "" {
			respondJSON(w, http.StatusOK, map[string]string{"key": key, "status": status, "source": "cache"})
			return
		}
	}

	if !found {
		respondError(w, http.StatusNotFound, "Event not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":                  key,
		"status":               snap.Info.Status,
		"source":               "state",
		"total_participantes":  snap.Info.TotalParticipants,
		"pids_revision_manual": snap.Info.ManualReviewPIDs,
	})
}

func eventIDVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := mux.Vars(r)["eventID"]
	id, err := url.PathUnescape(raw)
	if err != nil || id == "" {
		respondError(w, http.StatusBadRequest, "Invalid event ID", err)
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}
