package runstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/flowscrape/internal/participant"
)

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC) }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func stateWith(url string, pids ...string) string {
	var parts []string
	for _, p := range pids {
		parts = append(parts, `{"BinomID":"`+p+`"}`)
	}
	return `[{"informacion_evento":{"event_id":"e1","event_nombre":"Open","event_url_participantes":"` + url +
		`","total_participantes":` + itoa(len(pids)) + `,"timestamp_extraccion":"x"},"participantes":[` +
		strings.Join(parts, ",") + `]}]`
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func rec(pid, dorsal string) participant.Record {
	r := participant.Record{BinomID: pid, Fields: participant.FieldMap{}}
	if dorsal != "" {
		r.Fields[participant.KeyDorsal] = dorsal
	}
	return r
}

func TestLoadOrder(t *testing.T) {
	dir := t.TempDir()
	dated := filepath.Join(dir, "participantes_detallados_2024-06-01.json")
	latest := filepath.Join(dir, "participantes_detallados.json")
	resume := filepath.Join(dir, "resume.json")

	writeFile(t, latest, stateWith("u-latest", "l1"))
	writeFile(t, dated, stateWith("u-dated", "d1", "d2"))
	writeFile(t, resume, stateWith("u-resume", "r1"))

	s, err := Load(Options{Dir: dir, ResumeFile: resume, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, resume, s.LoadedFrom())

	s, err = Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, dated, s.LoadedFrom())
	_, n := s.Totals()
	assert.Equal(t, 2, n)

	// A dated file that is not a list is skipped in favour of latest.
	writeFile(t, dated, `{"informacion_evento":{}}`)
	s, err = Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, latest, s.LoadedFrom())

	writeFile(t, dated, `[{"informacion_evento":`)
	s, err = Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, latest, s.LoadedFrom())
}

func TestLoadWithoutResume(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "participantes_detallados.json"), stateWith("u", "p1"))

	s, err := Load(Options{Dir: dir, Resume: false, Now: fixedNow})
	require.NoError(t, err)
	assert.Empty(t, s.LoadedFrom())
	assert.Empty(t, s.Summaries())
}

func TestFindOrCreateMatchesByKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "participantes_detallados.json"), stateWith("https://flow/e1/participants_list", "abc123"))

	s, err := Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)

	acc, created := s.FindOrCreate(EventInfo{EventID: "e1", ParticipantsURL: "https://flow/e1/participants_list"})
	assert.False(t, created)
	assert.True(t, s.IsProcessed(acc, "abc123"))
	assert.False(t, s.IsProcessed(acc, "zzz"))

	other, created := s.FindOrCreate(EventInfo{EventID: "e2", EventName: "Other"})
	assert.True(t, created)
	assert.Equal(t, "2024-06-01T10:30:00", other.Info.ExtractedAt)
	assert.Len(t, s.Summaries(), 2)

	byName, created := s.FindOrCreate(EventInfo{EventName: "  Solo nombre "})
	assert.True(t, created)
	again, created := s.FindOrCreate(EventInfo{EventName: "Solo nombre"})
	assert.False(t, created)
	assert.Same(t, byName, again)
}

func TestAppendRejectsDuplicates(t *testing.T) {
	s, err := Load(Options{Dir: t.TempDir(), Resume: true, EveryN: 100, DedupByDorsal: true, Now: fixedNow})
	require.NoError(t, err)
	acc, _ := s.FindOrCreate(EventInfo{EventID: "e1"})

	require.NoError(t, s.Append(acc, rec("p1", "10")))
	require.ErrorIs(t, s.Append(acc, rec("p1", "11")), ErrDuplicate)
	require.ErrorIs(t, s.Append(acc, rec("p2", "10")), ErrDuplicate)
	require.NoError(t, s.Append(acc, rec("p3", "")))
	require.NoError(t, s.Append(acc, rec("p4", "")))

	assert.Len(t, acc.Participants, 3)
	assert.Equal(t, 3, acc.Info.TotalParticipants)
}

func TestAppendCheckpointsEveryN(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Options{Dir: dir, Resume: true, EveryN: 2, Now: fixedNow})
	require.NoError(t, err)
	acc, _ := s.FindOrCreate(EventInfo{EventID: "e1", ParticipantsURL: "u1"})

	require.NoError(t, s.Append(acc, rec("p1", "")))
	_, err = os.Stat(s.DatedPath())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Append(acc, rec("p2", "")))
	reloaded, err := Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, s.DatedPath(), reloaded.LoadedFrom())
	_, n := reloaded.Totals()
	assert.Equal(t, 2, n)

	latest, err := os.ReadFile(s.LatestPath())
	require.NoError(t, err)
	dated, err := os.ReadFile(s.DatedPath())
	require.NoError(t, err)
	assert.Equal(t, string(dated), string(latest))
}

func TestFinalizeEventAlwaysCheckpoints(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Options{Dir: dir, Resume: true, EveryN: 50, Now: fixedNow})
	require.NoError(t, err)
	acc, _ := s.FindOrCreate(EventInfo{EventID: "e1", ParticipantsURL: "u1"})
	require.NoError(t, s.Append(acc, rec("p1", "")))
	s.FlagForReview(acc, "p9")
	s.FlagForReview(acc, "p9")
	s.SetPagesProcessed(acc, 3)

	require.NoError(t, s.FinalizeEvent(acc, StatusOK))

	reloaded, err := Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	snap, ok := reloaded.Event("e1")
	require.True(t, ok)
	assert.Equal(t, StatusOK, snap.Info.Status)
	assert.Equal(t, 1, snap.Info.TotalParticipants)
	assert.Equal(t, 3, snap.Info.PagesProcessed)
	assert.Equal(t, []string{"p9"}, snap.Info.ManualReviewPIDs)
}

func TestCheckpointLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Options{Dir: dir, Resume: true, EveryN: 1, Now: fixedNow})
	require.NoError(t, err)
	acc, _ := s.FindOrCreate(EventInfo{EventID: "e1"})

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(acc, rec("p"+itoa(i), "")))

		// Every state on disk after a checkpoint must parse completely.
		data, err := os.ReadFile(s.DatedPath())
		require.NoError(t, err)
		var events []json.RawMessage
		require.NoError(t, json.Unmarshal(data, &events))
	}

	// A crash mid-write leaves only a temp file behind; reload ignores it.
	writeFile(t, filepath.Join(dir, ".participantes_detallados.json.123.tmp"), `[{"informacion_ev`)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	tmpCount := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			tmpCount++
		}
	}
	assert.Equal(t, 1, tmpCount)

	reloaded, err := Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	_, n := reloaded.Totals()
	assert.Equal(t, 20, n)
}

func TestCheckpointFailureKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(Options{Dir: dir, Resume: true, EveryN: 1, Now: fixedNow})
	require.NoError(t, err)
	acc, _ := s.FindOrCreate(EventInfo{EventID: "e1"})

	// A directory in place of the dated file makes the rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(s.DatedPath(), "blocker"), 0o755))
	require.NoError(t, s.Append(acc, rec("p1", "")))
	require.Error(t, s.Checkpoint())

	require.NoError(t, os.RemoveAll(s.DatedPath()))
	require.NoError(t, s.Append(acc, rec("p2", "")))

	reloaded, err := Load(Options{Dir: dir, Resume: true, Now: fixedNow})
	require.NoError(t, err)
	_, n := reloaded.Totals()
	assert.Equal(t, 2, n)
}

func TestEventInfoPreservesUnknownKeys(t *testing.T) {
	in := `{"event_id":"e1","event_nombre":"Open","event_url_participantes":"u","total_participantes":0,"timestamp_extraccion":"t","organizer":"Club X"}`
	var info EventInfo
	require.NoError(t, json.Unmarshal([]byte(in), &info))
	assert.Equal(t, json.RawMessage(`"Club X"`), info.Extra["organizer"])

	out, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"organizer":"Club X"`)
	assert.Contains(t, string(out), `"event_id":"e1"`)
}

func TestEventInfoMarshalKeyOrder(t *testing.T) {
	info := EventInfo{
		EventID:         "e1",
		EventName:       "Open",
		ParticipantsURL: "u",
		ExtractedAt:     "t",
		Status:          StatusOK,
		Extra: map[string]json.RawMessage{
			"zona":      json.RawMessage(`"Norte"`),
			"organizer": json.RawMessage(`{ "name": "Club X" }`),
			"estado":    json.RawMessage(`"stale"`),
		},
	}

	want := `{"event_id":"e1","event_nombre":"Open","event_url_participantes":"u",` +
		`"total_participantes":0,"timestamp_extraccion":"t","estado":"ok",` +
		`"organizer":{"name":"Club X"},"zona":"Norte"}`
	for n := 0; n < 5; n++ {
		out, err := json.Marshal(info)
		require.NoError(t, err)
		assert.Equal(t, want, string(out))
	}
}

func TestWriteDebugPage(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDebugPage(dir, "ev/1", 2, "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "participants", "raw_ev_1_page2.html"), path)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	writeFile(t, path, stateWith("u1", "p1", "p2"))

	events, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].Info.Key())
	assert.Len(t, events[0].Participants, 2)

	writeFile(t, path, `{"events":[]}`)
	_, err = ReadFile(path)
	assert.Error(t, err)
}
