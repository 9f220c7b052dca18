package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/store"
)

const upsertParticipant = `
	INSERT INTO participants (
		event_key, binom_id, dorsal, guia, perro, raza, club, federacion, days, record
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (event_key, binom_id) DO UPDATE SET
		dorsal = EXCLUDED.dorsal,
		guia = EXCLUDED.guia,
		perro = EXCLUDED.perro,
		raza = EXCLUDED.raza,
		club = EXCLUDED.club,
		federacion = EXCLUDED.federacion,
		days = EXCLUDED.days,
		record = EXCLUDED.record,
		updated_at = NOW()
`

// ParticipantRepository handles participant data access
type ParticipantRepository struct {
	db *store.Database
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db *store.Database) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func participantArgs(eventKey string, rec participant.Record) ([]interface{}, error) {
	if rec.BinomID == "" {
		return nil, fmt.Errorf("participant without BinomID")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding participant %s: %w", rec.BinomID, err)
	}
	days := make([]string, 0, len(rec.Schedule))
	for _, s := range rec.Schedule {
		if s.DayLabel != "" {
			days = append(days, s.DayLabel)
		}
	}
	return []interface{}{
		eventKey,
		rec.BinomID,
		rec.Field(participant.KeyDorsal),
		rec.Field(participant.KeyGuia),
		rec.Field(participant.KeyPerro),
		rec.Field(participant.KeyRaza),
		rec.Field(participant.KeyClub),
		rec.Field(participant.KeyFederacion),
		pq.StringArray(days),
		string(raw),
	}, nil
}

// Upsert inserts or replaces one participant of an event
func (r *ParticipantRepository) Upsert(ctx context.Context, eventKey string, rec participant.Record) error {
	args, err := participantArgs(eventKey, rec)
	if err != nil {
		return err
	}
	if _, err := r.db.DB().ExecContext(ctx, upsertParticipant, args...); err != nil {
		return fmt.Errorf("upserting participant %s: %w", rec.BinomID, err)
	}
	return nil
}

// UpsertBatch writes all records of an event in one transaction and
// returns how many were written
func (r *ParticipantRepository) UpsertBatch(ctx context.Context, eventKey string, recs []participant.Record) (int, error) {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertParticipant)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, rec := range recs {
		args, err := participantArgs(eventKey, rec)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("upserting participant %s: %w", rec.BinomID, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing participants: %w", err)
	}
	return n, nil
}

// ListByEvent returns an event's records in insertion order
func (r *ParticipantRepository) ListByEvent(ctx context.Context, eventKey string) ([]participant.Record, error) {
	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT record FROM participants WHERE event_key = $1 ORDER BY created_at, binom_id`, eventKey)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var out []participant.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		var rec participant.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decoding participant: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByEvent returns the number of participants stored for an event
func (r *ParticipantRepository) CountByEvent(ctx context.Context, eventKey string) (int, error) {
	var n int
	err := r.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE event_key = $1`, eventKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting participants: %w", err)
	}
	return n, nil
}
