package participant

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupLabel(t *testing.T) {
	tests := []struct {
		label string
		want  FieldKey
		ok    bool
	}{
		{"Dorsal", KeyDorsal, true},
		{"  Guía: ", KeyGuia, true},
		{"Handler", KeyGuia, true},
		{"GÉNERO", KeyGenero, true},
		{"Genero", KeyGenero, true},
		{"Gender", KeyGenero, true},
		{"Altura (cm)", KeyAlturaCm, true},
		{"Height  (cm)", KeyAlturaCm, true},
		{"Nombre de Pedrigree", KeyNombrePedigree, true},
		{"License number", KeyLicencia, true},
		{"Federación", KeyFederacion, true},
		{"Team", KeyEquipo, true},
		{"Categoría", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := LookupLabel(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyScheduleLabel(t *testing.T) {
	tests := []struct {
		label string
		want  ScheduleLabel
	}{
		{"Fecha", DateLabel},
		{"  FECHA ", DateLabel},
		{"Date", DateLabel},
		{"Mangas", RunsLabel},
		{"Runs", RunsLabel},
		{"Dorsal", NotSchedule},
		{"Dates", NotSchedule},
		{"Fecha de nacimiento", NotSchedule},
		{"Fecha inicio", NotSchedule},
		{"Mangas extra", NotSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyScheduleLabel(tt.label))
		})
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Border Collie", Clean("  Border\t\tCollie  "))
	assert.Equal(t, "Dorsal", Clean("• Dorsal:"))
	assert.Equal(t, "España", Clean("España 🇪🇸"))
	assert.Equal(t, "A1", Clean("Ａ１"))
	assert.Equal(t, "", Clean(" - ; "))
}

func TestFieldMapFirstSeenWins(t *testing.T) {
	m := FieldMap{}
	assert.False(t, m.Set(KeyPerro, "  "))
	assert.True(t, m.Set(KeyPerro, "Luna"))
	assert.False(t, m.Set(KeyPerro, "Nala"))
	assert.False(t, m.Set(FieldKey("categoria"), "A3"))
	assert.Equal(t, FieldMap{KeyPerro: "Luna"}, m)
}

func TestRecordMarshalColumns(t *testing.T) {
	rec := Record{
		BinomID: "b-1",
		Fields:  FieldMap{KeyDorsal: "12", KeyGuia: "Ana"},
		Schedule: []ScheduleEntry{
			{DayLabel: "Open Sábado", Date: "01/06/2024", Runs: "Agility, Jumping"},
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "b-1", generic["BinomID"])
	assert.Equal(t, "12", generic["Dorsal"])
	assert.Equal(t, "Ana", generic["Guía"])
	assert.Equal(t, "", generic["Raza"])
	assert.Equal(t, "Open Sábado", generic["Día 1"])
	assert.Equal(t, "Agility, Jumping", generic["Mangas 1"])
	assert.Contains(t, generic, "Fecha 6")
	assert.NotContains(t, generic, "Fecha 7")
	assert.NotContains(t, generic, "raw_panel_html")

	s := string(data)
	assert.Less(t, strings.Index(s, `"BinomID"`), strings.Index(s, `"Dorsal"`))
	assert.Less(t, strings.Index(s, `"Equipo"`), strings.Index(s, `"Día 1"`))
}

func TestRecordRoundTripPreservesUnknownKeys(t *testing.T) {
	in := `{"BinomID":"x9","Dorsal":"7","Altura (cm)":45,"Categoría":"A3","Día 1":"Open","Fecha 1":"02/06","Mangas 1":"2","Día 2":"","Fecha 2":"","Mangas 2":""}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(in), &rec))

	want := Record{
		BinomID:  "x9",
		Fields:   FieldMap{KeyDorsal: "7", KeyAlturaCm: "45"},
		Schedule: []ScheduleEntry{{DayLabel: "Open", Date: "02/06", Runs: "2"}},
		Extra:    map[string]json.RawMessage{"Categoría": json.RawMessage(`"A3"`)},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("unexpected record (-want +got):\n%s", diff)
	}

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Categoría":"A3"`)
}

func TestRecordEmpty(t *testing.T) {
	assert.True(t, Record{BinomID: "p"}.Empty())
	assert.True(t, Record{Schedule: []ScheduleEntry{{DayLabel: "Open"}}}.Empty())
	assert.False(t, Record{Fields: FieldMap{KeyClub: "CA Madrid"}}.Empty())
}
