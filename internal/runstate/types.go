package runstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fortuna/flowscrape/internal/participant"
)

// Terminal event states.
const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusTimeout = "timeout"
	StatusNoURL   = "sin_url"
	StatusError   = "error"
)

// EventInfo is the informacion_evento block of one event in the output.
type EventInfo struct {
	EventID           string   `json:"event_id"`
	EventName         string   `json:"event_nombre"`
	Dates             string   `json:"event_fechas,omitempty"`
	Club              string   `json:"event_club,omitempty"`
	Place             string   `json:"event_lugar,omitempty"`
	ParticipantsURL   string   `json:"event_url_participantes"`
	TotalParticipants int      `json:"total_participantes"`
	ExtractedAt       string   `json:"timestamp_extraccion"`
	Status            string   `json:"estado,omitempty"`
	PagesProcessed    int      `json:"paginas_procesadas,omitempty"`
	ManualReviewPIDs  []string `json:"pids_revision_manual,omitempty"`

	// Extra keeps keys written by other tools.
	Extra map[string]json.RawMessage `json:"-"`
}

type eventInfoAlias EventInfo

// MarshalJSON writes the known keys in field order, then Extra keys sorted.
func (i EventInfo) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventInfoAlias(i))
	if err != nil || len(i.Extra) == 0 {
		return base, err
	}

	keys := make([]string, 0, len(i.Extra))
	for k := range i.Extra {
		if !isKnownInfoKey(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return base, nil
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for n, k := range keys {
		if n > 0 || len(base) > 2 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v := i.Extra[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("extra key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (i *EventInfo) UnmarshalJSON(data []byte) error {
	var alias eventInfoAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for _, k := range knownInfoKeys {
		delete(m, k)
	}
	if len(m) > 0 {
		alias.Extra = m
	}
	*i = EventInfo(alias)
	return nil
}

var knownInfoKeys = []string{
	"event_id", "event_nombre", "event_fechas", "event_club", "event_lugar",
	"event_url_participantes", "total_participantes", "timestamp_extraccion",
	"estado", "paginas_procesadas", "pids_revision_manual",
}

func isKnownInfoKey(k string) bool {
	for _, known := range knownInfoKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Key identifies the event across runs: participants URL, else id, else name.
func (i EventInfo) Key() string {
	if u := strings.TrimSpace(i.ParticipantsURL); u != "" {
		return u
	}
	if id := strings.TrimSpace(i.EventID); id != "" {
		return id
	}
	return strings.TrimSpace(i.EventName)
}

// Accumulator holds everything extracted for one event.
type Accumulator struct {
	Info         EventInfo            `json:"informacion_evento"`
	Participants []participant.Record `json:"participantes"`

	pids    map[string]struct{}
	dorsals map[string]struct{}
}

func (a *Accumulator) index() {
	if a.pids != nil {
		return
	}
	a.pids = make(map[string]struct{}, len(a.Participants))
	a.dorsals = make(map[string]struct{}, len(a.Participants))
	for _, p := range a.Participants {
		if p.BinomID != "" {
			a.pids[p.BinomID] = struct{}{}
		}
		if d := p.Field(participant.KeyDorsal); d != "" {
			a.dorsals[d] = struct{}{}
		}
	}
}

func (a *Accumulator) snapshot() Snapshot {
	info := a.Info
	info.ManualReviewPIDs = append([]string(nil), a.Info.ManualReviewPIDs...)
	return Snapshot{Key: a.Info.Key(), Info: info, Count: len(a.Participants)}
}

// Snapshot is a read-only view of one event.
type Snapshot struct {
	Key   string    `json:"key"`
	Info  EventInfo `json:"info"`
	Count int       `json:"count"`
}

// SortByCount orders snapshots by participant count, largest first.
func SortByCount(s []Snapshot) {
	sort.SliceStable(s, func(a, b int) bool { return s[a].Count > s[b].Count })
}
