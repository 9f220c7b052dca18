package participant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ScheduleSlots is the number of Día/Fecha/Mangas column triples always
// present in a written record.
const ScheduleSlots = 6

const (
	keyEventID   = "event_id"
	keyEventName = "event_name"
	keyBinomID   = "BinomID"
	keyRawPanel  = "raw_panel_html"
)

var scheduleColumnRegex = regexp.MustCompile(`^(Día|Fecha|Mangas) (\d+)$`)

// Record is one extracted participant. Once appended to an event it is
// never modified.
type Record struct {
	EventID      string
	EventName    string
	BinomID      string
	Fields       FieldMap
	Schedule     []ScheduleEntry
	RawPanelHTML string

	// Extra holds keys read from an existing output file that this version
	// does not model. They are written back unchanged.
	Extra map[string]json.RawMessage
}

// Empty reports whether the record carries no extracted data.
func (r Record) Empty() bool {
	for _, v := range r.Fields {
		if v != "" {
			return false
		}
	}
	for _, e := range r.Schedule {
		if e.Date != "" || e.Runs != "" {
			return false
		}
	}
	return true
}

// Field returns the value stored for key, or "".
func (r Record) Field(key FieldKey) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// MarshalJSON writes the record with a stable column order: identifiers,
// canonical fields, schedule slots, debug markup, then preserved keys.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		raw, err := marshalNoEscape(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		return writeRaw(&buf, &first, key, raw)
	}

	if r.EventID != "" {
		if err := write(keyEventID, r.EventID); err != nil {
			return nil, err
		}
	}
	if r.EventName != "" {
		if err := write(keyEventName, r.EventName); err != nil {
			return nil, err
		}
	}
	if err := write(keyBinomID, r.BinomID); err != nil {
		return nil, err
	}
	for _, key := range Keys {
		if err := write(key.DisplayLabel(), r.Field(key)); err != nil {
			return nil, err
		}
	}

	slots := len(r.Schedule)
	if slots < ScheduleSlots {
		slots = ScheduleSlots
	}
	for i := 0; i < slots; i++ {
		var e ScheduleEntry
		if i < len(r.Schedule) {
			e = r.Schedule[i]
		}
		n := strconv.Itoa(i + 1)
		if err := write("Día "+n, e.DayLabel); err != nil {
			return nil, err
		}
		if err := write("Fecha "+n, e.Date); err != nil {
			return nil, err
		}
		if err := write("Mangas "+n, e.Runs); err != nil {
			return nil, err
		}
	}

	if r.RawPanelHTML != "" {
		if err := write(keyRawPanel, r.RawPanelHTML); err != nil {
			return nil, err
		}
	}

	extraKeys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if err := writeRaw(&buf, &first, k, r.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a record written by MarshalJSON or by older tools.
// Non-string values in known columns are kept as their JSON text.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	labelToKey := make(map[string]FieldKey, len(Keys)*2)
	for _, key := range Keys {
		labelToKey[key.DisplayLabel()] = key
		labelToKey[string(key)] = key
	}

	out := Record{Fields: FieldMap{}}
	slots := map[int]*ScheduleEntry{}
	maxSlot := 0

	for k, v := range raw {
		switch k {
		case keyEventID:
			out.EventID = rawString(v)
			continue
		case keyEventName:
			out.EventName = rawString(v)
			continue
		case keyBinomID:
			out.BinomID = rawString(v)
			continue
		case keyRawPanel:
			out.RawPanelHTML = rawString(v)
			continue
		}

		if key, ok := labelToKey[k]; ok {
			if s := rawString(v); s != "" {
				out.Fields[key] = s
			}
			continue
		}

		if m := scheduleColumnRegex.FindStringSubmatch(k); m != nil {
			n, err := strconv.Atoi(m[2])
			if err == nil && n > 0 {
				e, ok := slots[n]
				if !ok {
					e = &ScheduleEntry{}
					slots[n] = e
				}
				s := rawString(v)
				switch m[1] {
				case "Día":
					e.DayLabel = s
				case "Fecha":
					e.Date = s
				case "Mangas":
					e.Runs = s
				}
				if n > maxSlot {
					maxSlot = n
				}
				continue
			}
		}

		if out.Extra == nil {
			out.Extra = map[string]json.RawMessage{}
		}
		out.Extra[k] = append(json.RawMessage(nil), v...)
	}

	// Trailing all-empty slots are the padding MarshalJSON adds.
	for maxSlot > 0 {
		if e, ok := slots[maxSlot]; ok && !e.IsZero() {
			break
		}
		maxSlot--
	}
	for i := 1; i <= maxSlot; i++ {
		if e, ok := slots[i]; ok {
			out.Schedule = append(out.Schedule, *e)
		} else {
			out.Schedule = append(out.Schedule, ScheduleEntry{})
		}
	}

	*r = out
	return nil
}

func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	t := string(bytes.TrimSpace(v))
	if t == "null" {
		return ""
	}
	return t
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeRaw(buf *bytes.Buffer, first *bool, key string, raw []byte) error {
	k, err := marshalNoEscape(key)
	if err != nil {
		return err
	}
	if !*first {
		buf.WriteByte(',')
	}
	*first = false
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(raw)
	return nil
}
