package runstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/participant"
)

const (
	datedPrefix = "participantes_detallados_"
	latestName  = "participantes_detallados.json"
	dayLayout   = "2006-01-02"
	stampLayout = "2006-01-02T15:04:05"
)

// ErrDuplicate is returned by Append for a participant the event already has.
var ErrDuplicate = errors.New("participant already recorded")

// Options configures a Store.
type Options struct {
	Dir string
	// ResumeFile, when set, is tried before the dated and latest files.
	ResumeFile string
	// Resume=false starts from an empty state regardless of files on disk.
	Resume bool
	// EveryN new records trigger a checkpoint. Values below 1 mean 1.
	EveryN int
	// DedupByDorsal also rejects a record whose dorsal is already present
	// in the event.
	DedupByDorsal bool

	Now    func() time.Time
	Logger *zap.Logger
}

// Store is the run state: every event accumulator, checkpointed to disk as
// one JSON list. The crawl goroutine writes; API handlers read snapshots.
type Store struct {
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	events     []*Accumulator
	pending    int
	datedPath  string
	latestPath string
	loadedFrom string
}

// Load builds a Store, resuming from the first readable file among the
// resume override, today's dated file and the latest file.
func Load(opts Options) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EveryN < 1 {
		opts.EveryN = 1
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	s := &Store{
		opts:       opts,
		logger:     logger,
		datedPath:  filepath.Join(opts.Dir, datedPrefix+opts.Now().Format(dayLayout)+".json"),
		latestPath: filepath.Join(opts.Dir, latestName),
	}

	if !opts.Resume {
		logger.Info("Resume disabled, starting with empty state")
		return s, nil
	}

	candidates := []string{s.datedPath, s.latestPath}
	if opts.ResumeFile != "" {
		candidates = append([]string{opts.ResumeFile}, candidates...)
	}
	for _, path := range candidates {
		events, err := readState(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.Warn("⚠️  Ignoring unreadable state file", zap.String("path", path), zap.Error(err))
			continue
		}
		s.events = events
		s.loadedFrom = path
		logger.Info("✓ Resumed run state",
			zap.String("path", path),
			zap.Int("events", len(events)),
			zap.Int("participants", s.countLocked()),
		)
		break
	}
	return s, nil
}

// ReadFile parses a state file written by Checkpoint.
func ReadFile(path string) ([]*Accumulator, error) {
	return readState(path)
}

func readState(path string) ([]*Accumulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%s: expected a JSON list", path)
	}
	var events []*Accumulator
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	out := events[:0]
	for _, e := range events {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadedFrom returns the file the state was resumed from, or "".
func (s *Store) LoadedFrom() string { return s.loadedFrom }

// DatedPath returns today's output file.
func (s *Store) DatedPath() string { return s.datedPath }

// LatestPath returns the stable output file.
func (s *Store) LatestPath() string { return s.latestPath }

// FindOrCreate returns the accumulator for info's event key, appending a
// new one when the event has never been seen.
func (s *Store) FindOrCreate(info EventInfo) (*Accumulator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := info.Key()
	for _, acc := range s.events {
		if acc.Info.Key() == key {
			acc.index()
			fillMissing(&acc.Info, info)
			return acc, false
		}
	}

	info.TotalParticipants = 0
	info.ExtractedAt = s.opts.Now().Format(stampLayout)
	acc := &Accumulator{Info: info, Participants: []participant.Record{}}
	acc.index()
	s.events = append(s.events, acc)
	return acc, true
}

func fillMissing(dst *EventInfo, src EventInfo) {
	if dst.EventID == "" {
		dst.EventID = src.EventID
	}
	if dst.EventName == "" {
		dst.EventName = src.EventName
	}
	if dst.Dates == "" {
		dst.Dates = src.Dates
	}
	if dst.Club == "" {
		dst.Club = src.Club
	}
	if dst.Place == "" {
		dst.Place = src.Place
	}
	if dst.ParticipantsURL == "" {
		dst.ParticipantsURL = src.ParticipantsURL
	}
}

// IsProcessed reports whether acc already holds a record for pid.
func (s *Store) IsProcessed(acc *Accumulator, pid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc.pids == nil {
		for _, p := range acc.Participants {
			if p.BinomID == pid {
				return true
			}
		}
		return false
	}
	_, ok := acc.pids[pid]
	return ok
}

// Append adds rec to acc and checkpoints after every EveryN new records.
// A failed checkpoint is logged; the record stays in memory and is written
// by the next successful one.
func (s *Store) Append(acc *Accumulator, rec participant.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc.index()
	if _, dup := acc.pids[rec.BinomID]; dup {
		return fmt.Errorf("pid %s: %w", rec.BinomID, ErrDuplicate)
	}
	dorsal := rec.Field(participant.KeyDorsal)
	if s.opts.DedupByDorsal && dorsal != "" {
		if _, dup := acc.dorsals[dorsal]; dup {
			return fmt.Errorf("dorsal %s (pid %s): %w", dorsal, rec.BinomID, ErrDuplicate)
		}
	}

	acc.Participants = append(acc.Participants, rec)
	acc.pids[rec.BinomID] = struct{}{}
	if dorsal != "" {
		acc.dorsals[dorsal] = struct{}{}
	}
	acc.Info.TotalParticipants = len(acc.Participants)

	s.pending++
	if s.pending >= s.opts.EveryN {
		if err := s.checkpointLocked(); err != nil {
			s.logger.Warn("⚠️  Checkpoint failed, keeping state in memory", zap.Error(err))
		}
	}
	return nil
}

// FlagForReview records a pid whose panel rendered but yielded nothing.
func (s *Store) FlagForReview(acc *Accumulator, pid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range acc.Info.ManualReviewPIDs {
		if p == pid {
			return
		}
	}
	acc.Info.ManualReviewPIDs = append(acc.Info.ManualReviewPIDs, pid)
}

// SetPagesProcessed records how many listing pages were walked.
func (s *Store) SetPagesProcessed(acc *Accumulator, pages int) {
	s.mu.Lock()
	acc.Info.PagesProcessed = pages
	s.mu.Unlock()
}

// FinalizeEvent stamps acc with its terminal status and counters and
// checkpoints unconditionally.
func (s *Store) FinalizeEvent(acc *Accumulator, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc.Info.Status = status
	acc.Info.TotalParticipants = len(acc.Participants)
	acc.Info.ExtractedAt = s.opts.Now().Format(stampLayout)
	return s.checkpointLocked()
}

// Checkpoint writes the whole state to the dated and latest files.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointLocked()
}

func (s *Store) checkpointLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	events := s.events
	if events == nil {
		events = []*Accumulator{}
	}
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}

	for _, path := range []string{s.datedPath, s.latestPath} {
		if err := writeAtomic(path, buf.Bytes()); err != nil {
			return err
		}
	}
	s.pending = 0
	s.logger.Debug("Checkpoint written",
		zap.String("path", s.datedPath),
		zap.Int("events", len(s.events)),
	)
	return nil
}

// writeAtomic replaces path with data so that readers see either the old or
// the new file, never a partial one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (s *Store) countLocked() int {
	n := 0
	for _, e := range s.events {
		n += len(e.Participants)
	}
	return n
}

// Totals returns the number of events and participants held.
func (s *Store) Totals() (events, participants int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), s.countLocked()
}

// Summaries returns a snapshot of every event in state order.
func (s *Store) Summaries() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.snapshot())
	}
	return out
}

// Event returns the snapshot for an event addressed by key or event id.
func (s *Store) Event(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc := s.lookupLocked(id); acc != nil {
		return acc.snapshot(), true
	}
	return Snapshot{}, false
}

// Participants returns a copy of the records for an event addressed by key
// or event id.
func (s *Store) Participants(id string) ([]participant.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := s.lookupLocked(id)
	if acc == nil {
		return nil, false
	}
	return append([]participant.Record(nil), acc.Participants...), true
}

func (s *Store) lookupLocked(id string) *Accumulator {
	for _, e := range s.events {
		if e.Info.Key() == id || (id != "" && e.Info.EventID == id) {
			return e
		}
	}
	return nil
}

// WriteDebugPage stores raw listing markup as participants/raw_<event>_page<N>.html
// under dir.
func WriteDebugPage(dir, eventID string, page int, html string) (string, error) {
	target := filepath.Join(dir, "participants")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("failed to create debug dir: %w", err)
	}
	if eventID == "" {
		eventID = "unknown"
	}
	path := filepath.Join(target, fmt.Sprintf("raw_%s_page%d.html", sanitizeName(eventID), page))
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("failed to write debug page: %w", err)
	}
	return path, nil
}

func sanitizeName(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
