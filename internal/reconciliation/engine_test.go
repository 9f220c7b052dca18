package reconciliation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/fortuna/flowscrape/internal/participant"
)

func TestMergePrimaryWins(t *testing.T) {
	primary := participant.Extraction{
		Fields: participant.FieldMap{
			participant.KeyDorsal: "101",
			participant.KeyPerro:  "Kira",
		},
	}
	secondary := participant.Extraction{
		Fields: participant.FieldMap{
			participant.KeyDorsal: "999",
			participant.KeyRaza:   "Border Collie",
		},
	}

	got := Merge(primary, secondary)

	want := participant.FieldMap{
		participant.KeyDorsal: "101",
		participant.KeyPerro:  "Kira",
		participant.KeyRaza:   "Border Collie",
	}
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Errorf("merged fields mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeEmptyPrimaryValueIsFilled(t *testing.T) {
	primary := participant.Extraction{Fields: participant.FieldMap{participant.KeyClub: ""}}
	secondary := participant.Extraction{Fields: participant.FieldMap{participant.KeyClub: "CA Sevilla"}}

	got := Merge(primary, secondary)
	assert.Equal(t, "CA Sevilla", got.Fields[participant.KeyClub])
}

func TestMergeScheduleNotInterleaved(t *testing.T) {
	primary := participant.Extraction{
		Schedule: []participant.ScheduleEntry{
			{DayLabel: "Open Sábado", Date: "", Runs: "Agility"},
		},
	}
	secondary := participant.Extraction{
		Schedule: []participant.ScheduleEntry{
			{DayLabel: "Open Sábado", Date: "01/06/2024", Runs: "Agility"},
			{DayLabel: "Open Domingo", Date: "02/06/2024", Runs: "Jumping"},
		},
	}

	got := Merge(primary, secondary)
	if diff := cmp.Diff(primary.Schedule, got.Schedule); diff != "" {
		t.Errorf("schedule mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeScheduleFromSecondaryDropsEmptyRows(t *testing.T) {
	secondary := participant.Extraction{
		Schedule: []participant.ScheduleEntry{
			{},
			{DayLabel: "Open Domingo", Date: "02/06/2024", Runs: "Jumping"},
		},
	}

	got := Merge(participant.Extraction{}, secondary)
	assert.Equal(t, []participant.ScheduleEntry{
		{DayLabel: "Open Domingo", Date: "02/06/2024", Runs: "Jumping"},
	}, got.Schedule)
}

func TestEngineMetrics(t *testing.T) {
	e := NewEngine(nil)

	e.Merge(
		participant.Extraction{Fields: participant.FieldMap{participant.KeyGuia: "Ana"}},
		participant.Extraction{
			Fields: participant.FieldMap{
				participant.KeyGuia: "Ana María",
				participant.KeyEdad: "4",
			},
			Schedule: []participant.ScheduleEntry{{DayLabel: "Open", Date: "1", Runs: "2"}},
		},
	)
	e.RecordFallback()
	e.RecordMismatch()

	m := e.GetMetrics()
	assert.Equal(t, 1, m.TotalMerges)
	assert.Equal(t, 1, m.SecondaryFills)
	assert.Equal(t, 1, m.Conflicts)
	assert.Equal(t, 1, m.ScheduleFromSecondary)
	assert.Equal(t, 1, m.PositionalFallbacks)
	assert.Equal(t, 1, m.Mismatches)

	e.ResetMetrics()
	assert.Zero(t, e.GetMetrics().TotalMerges)
}
