package store

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Event is one row of the events table
type Event struct {
	EventKey        string         `json:"event_key" db:"event_key"`
	EventID         string         `json:"event_id" db:"event_id"`
	Name            string         `json:"name" db:"name"`
	Dates           string         `json:"dates" db:"dates"`
	Club            string         `json:"club" db:"club"`
	Place           string         `json:"place" db:"place"`
	ParticipantsURL string         `json:"participants_url" db:"participants_url"`
	Status          string         `json:"status" db:"status"`
	Total           int            `json:"total" db:"total"`
	Pages           int            `json:"pages" db:"pages"`
	ManualReview    pq.StringArray `json:"manual_review" db:"manual_review"`
	ExtractedAt     string         `json:"extracted_at" db:"extracted_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Participant is one row of the participants table. Record holds the full
// output object; the other columns are copies for querying.
type Participant struct {
	EventKey   string          `json:"event_key" db:"event_key"`
	BinomID    string          `json:"binom_id" db:"binom_id"`
	Dorsal     string          `json:"dorsal" db:"dorsal"`
	Guia       string          `json:"guia" db:"guia"`
	Perro      string          `json:"perro" db:"perro"`
	Raza       string          `json:"raza" db:"raza"`
	Club       string          `json:"club" db:"club"`
	Federacion string          `json:"federacion" db:"federacion"`
	Days       pq.StringArray  `json:"days" db:"days"`
	Record     json.RawMessage `json:"record" db:"record"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
