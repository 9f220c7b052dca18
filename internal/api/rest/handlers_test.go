package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/progress"
	"github.com/fortuna/flowscrape/internal/runstate"
)

const eventURL = "https://flow.test/zone/events/e1/participants_list"

func newState(t *testing.T) *runstate.Store {
	t.Helper()
	s, err := runstate.Load(runstate.Options{Dir: t.TempDir()})
	require.NoError(t, err)

	big, _ := s.FindOrCreate(runstate.EventInfo{EventID: "e1", EventName: "Open", ParticipantsURL: eventURL})
	for _, pid := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.Append(big, participant.Record{
			BinomID: pid,
			Fields:  participant.FieldMap{participant.KeyPerro: "Dog " + pid},
		}))
	}
	s.FlagForReview(big, "p9")
	require.NoError(t, s.FinalizeEvent(big, runstate.StatusOK))

	small, _ := s.FindOrCreate(runstate.EventInfo{EventID: "e2", EventName: "Copa"})
	require.NoError(t, s.FinalizeEvent(small, runstate.StatusNoURL))
	return s
}

type stubStopper struct{ stopped bool }

func (s *stubStopper) Stop() { s.stopped = true }

type stubCache map[string]string

func (c stubCache) GetEventStatus(_ context.Context, key string) (string, error) {
	if v, ok := c[key]; ok {
		return v, nil
	}
	return "", errors.New("miss")
}

func serve(t *testing.T, deps Deps, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	srv := NewServer("0", deps, zaptest.NewLogger(t))
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealthCheck(t *testing.T) {
	rec, body := serve(t, Deps{State: newState(t)}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 2, body["events"])
	assert.EqualValues(t, 3, body["participants"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetEvents(t *testing.T) {
	deps := Deps{State: newState(t)}

	_, body := serve(t, deps, http.MethodGet, "/api/v1/events")
	assert.EqualValues(t, 2, body["count"])

	_, body = serve(t, deps, http.MethodGet, "/api/v1/events?status=sin_url")
	assert.EqualValues(t, 1, body["count"])
	events := body["events"].([]interface{})
	assert.Equal(t, "e2", events[0].(map[string]interface{})["key"])
}

func TestGetEventParticipants(t *testing.T) {
	deps := Deps{State: newState(t)}

	rec, body := serve(t, deps, http.MethodGet, "/api/v1/events/e1/participants?offset=1&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 1, body["count"])
	got := body["participants"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "p2", got["BinomID"])
	assert.Equal(t, "Dog p2", got["Perro"])

	// The participants URL works as an id too.
	rec, body = serve(t, deps, http.MethodGet, "/api/v1/events/"+url.PathEscape(eventURL)+"/participants")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["count"])

	rec, _ = serve(t, deps, http.MethodGet, "/api/v1/events/nope/participants")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEventStatus(t *testing.T) {
	state := newState(t)

	_, body := serve(t, Deps{State: state}, http.MethodGet, "/api/v1/events/e1/status")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "state", body["source"])
	assert.Equal(t, []interface{}{"p9"}, body["pids_revision_manual"])

	cache := stubCache{eventURL: "timeout"}
	_, body = serve(t, Deps{State: state, Cache: cache}, http.MethodGet, "/api/v1/events/e1/status")
	assert.Equal(t, "timeout", body["status"])
	assert.Equal(t, "cache", body["source"])

	rec, _ := serve(t, Deps{State: state, Cache: cache}, http.MethodGet, "/api/v1/events/zz/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunEndpoints(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.OnRunStart(4)
	stopper := &stubStopper{}
	deps := Deps{State: newState(t), Progress: tracker, Stopper: stopper}

	_, body := serve(t, deps, http.MethodGet, "/api/v1/run")
	assert.Equal(t, "running", body["phase"])
	assert.EqualValues(t, 4, body["total_events"])

	rec, _ := serve(t, deps, http.MethodPost, "/api/v1/run/stop")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, stopper.stopped)

	rec, _ = serve(t, Deps{State: newState(t)}, http.MethodPost, "/api/v1/run/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}
