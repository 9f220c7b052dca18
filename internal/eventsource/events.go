package eventsource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Event is one competition read from the event list.
type Event struct {
	ID              string
	Name            string
	ParticipantsURL string
	Dates           string
	Club            string
	Place           string
}

// ErrNoEventsFile is returned by Latest when no event list exists.
var ErrNoEventsFile = errors.New("no events file found")

var (
	idKeys   = []string{"id", "uuid", "event_id", "slug"}
	nameKeys = []string{"nombre", "name", "title", "event_name"}
	urlKeys  = []string{"participants_url", "participants_list", "participants", "lista_participantes"}
	baseKeys = []string{"event_url", "url"}
)

// Load reads an event list. The file is a JSON list of objects, or an
// object with an "events" list. baseURL is used to build the participants
// URL of events that only carry an id.
func Load(path, baseURL string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return Parse(data, baseURL)
}

// Parse decodes an event list.
func Parse(data []byte, baseURL string) ([]Event, error) {
	data = bytes.TrimSpace(data)

	var raw []map[string]any
	if len(data) > 0 && data[0] == '{' {
		var wrapper struct {
			Events []map[string]any `json:"events"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse events: %w", err)
		}
		raw = wrapper.Events
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			continue
		}
		events = append(events, fromMap(m, baseURL))
	}
	return events, nil
}

func fromMap(m map[string]any, baseURL string) Event {
	ev := Event{
		ID:    first(m, idKeys),
		Name:  first(m, nameKeys),
		Dates: first(m, []string{"fechas", "dates"}),
		Club:  first(m, []string{"club", "organizador"}),
		Place: first(m, []string{"lugar", "location", "place"}),
	}
	ev.ParticipantsURL = participantsURL(m, ev.ID, baseURL)
	return ev
}

func participantsURL(m map[string]any, id, baseURL string) string {
	if links, ok := m["enlaces"].(map[string]any); ok {
		if u := str(links["participantes"]); u != "" {
			return u
		}
	}
	if u := first(m, urlKeys); u != "" {
		return u
	}
	if base := first(m, baseKeys); base != "" {
		return strings.TrimRight(base, "/") + "/participants_list"
	}
	if id != "" && baseURL != "" {
		return strings.TrimRight(baseURL, "/") + "/zone/events/" + id + "/participants_list"
	}
	return ""
}

func first(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := str(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", x), "0"), ".")
	case json.Number:
		return x.String()
	}
	return ""
}

// Latest returns the most recently modified 01events*.json in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "01events*.json"))
	if err != nil {
		return "", err
	}
	var best string
	var bestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best, bestMod = m, mod
		}
	}
	if best == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrNoEventsFile)
	}
	return best, nil
}

// Limit returns at most n events; n <= 0 means all.
func Limit(events []Event, n int) []Event {
	if n <= 0 || n >= len(events) {
		return events
	}
	return events[:n]
}
