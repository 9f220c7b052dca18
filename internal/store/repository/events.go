package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fortuna/flowscrape/internal/runstate"
	"github.com/fortuna/flowscrape/internal/store"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// EventRepository handles event data access
type EventRepository struct {
	db *store.Database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *store.Database) *EventRepository {
	return &EventRepository{db: db}
}

// Upsert inserts or updates an event from its informacion_evento block.
// Empty incoming metadata never overwrites stored values.
func (r *EventRepository) Upsert(ctx context.Context, info runstate.EventInfo) error {
	key := info.Key()
	if key == "" {
		return fmt.Errorf("event has no key")
	}

	query := `
		INSERT INTO events (
			event_key, event_id, name, dates, club, place, participants_url,
			status, total, pages, manual_review, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_key) DO UPDATE SET
			event_id = COALESCE(NULLIF(EXCLUDED.event_id, ''), events.event_id),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), events.name),
			dates = COALESCE(NULLIF(EXCLUDED.dates, ''), events.dates),
			club = COALESCE(NULLIF(EXCLUDED.club, ''), events.club),
			place = COALESCE(NULLIF(EXCLUDED.place, ''), events.place),
			participants_url = COALESCE(NULLIF(EXCLUDED.participants_url, ''), events.participants_url),
			status = COALESCE(NULLIF(EXCLUDED.status, ''), events.status),
			total = GREATEST(EXCLUDED.total, events.total),
			pages = GREATEST(EXCLUDED.pages, events.pages),
			manual_review = CASE WHEN cardinality(EXCLUDED.manual_review) > 0
				THEN EXCLUDED.manual_review ELSE events.manual_review END,
			extracted_at = COALESCE(NULLIF(EXCLUDED.extracted_at, ''), events.extracted_at),
			updated_at = NOW()
	`

	review := info.ManualReviewPIDs
	if review == nil {
		review = []string{}
	}
	_, err := r.db.DB().ExecContext(ctx, query,
		key, info.EventID, info.EventName, info.Dates, info.Club, info.Place, info.ParticipantsURL,
		info.Status, info.TotalParticipants, info.PagesProcessed, pq.StringArray(review), info.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting event %s: %w", key, err)
	}
	return nil
}

// GetByKey finds an event by its key
func (r *EventRepository) GetByKey(ctx context.Context, key string) (*store.Event, error) {
	query := `
		SELECT event_key, event_id, name, dates, club, place, participants_url,
			status, total, pages, manual_review, extracted_at, created_at, updated_at
		FROM events
		WHERE event_key = $1
	`

	e := &store.Event{}
	err := r.db.DB().QueryRowContext(ctx, query, key).Scan(
		&e.EventKey, &e.EventID, &e.Name, &e.Dates, &e.Club, &e.Place, &e.ParticipantsURL,
		&e.Status, &e.Total, &e.Pages, &e.ManualReview, &e.ExtractedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

// CountByStatus returns the number of events per status
func (r *EventRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.DB().QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
