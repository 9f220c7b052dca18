package participant

// FieldKey is a canonical participant attribute. The set is closed: every
// label variant seen on the panel maps onto one of these or is dropped.
type FieldKey string

const (
	KeyDorsal         FieldKey = "dorsal"
	KeyGuia           FieldKey = "guia"
	KeyPerro          FieldKey = "perro"
	KeyRaza           FieldKey = "raza"
	KeyEdad           FieldKey = "edad"
	KeyGenero         FieldKey = "genero"
	KeyAlturaCm       FieldKey = "altura_cm"
	KeyNombrePedigree FieldKey = "nombre_pedigree"
	KeyPais           FieldKey = "pais"
	KeyLicencia       FieldKey = "licencia"
	KeyClub           FieldKey = "club"
	KeyFederacion     FieldKey = "federacion"
	KeyEquipo         FieldKey = "equipo"
)

// Keys lists every canonical key in output column order.
var Keys = []FieldKey{
	KeyDorsal, KeyGuia, KeyPerro, KeyRaza, KeyEdad, KeyGenero, KeyAlturaCm,
	KeyNombrePedigree, KeyPais, KeyLicencia, KeyClub, KeyFederacion, KeyEquipo,
}

var displayLabels = map[FieldKey]string{
	KeyDorsal:         "Dorsal",
	KeyGuia:           "Guía",
	KeyPerro:          "Perro",
	KeyRaza:           "Raza",
	KeyEdad:           "Edad",
	KeyGenero:         "Género",
	KeyAlturaCm:       "Altura (cm)",
	KeyNombrePedigree: "Nombre de Pedigree",
	KeyPais:           "País",
	KeyLicencia:       "Licencia",
	KeyClub:           "Club",
	KeyFederacion:     "Federación",
	KeyEquipo:         "Equipo",
}

// labelTable maps normalized panel label text (Spanish and English UI) to
// canonical keys.
var labelTable = map[string]FieldKey{
	"dorsal": KeyDorsal,

	"guía":    KeyGuia,
	"guia":    KeyGuia,
	"handler": KeyGuia,

	"perro": KeyPerro,
	"dog":   KeyPerro,

	"raza":  KeyRaza,
	"breed": KeyRaza,

	"edad": KeyEdad,
	"age":  KeyEdad,

	"género": KeyGenero,
	"genero": KeyGenero,
	"gender": KeyGenero,

	"altura (cm)": KeyAlturaCm,
	"altura":      KeyAlturaCm,
	"height (cm)": KeyAlturaCm,
	"height":      KeyAlturaCm,

	"nombre de pedigree":  KeyNombrePedigree,
	"nombre de pedrigree": KeyNombrePedigree,
	"pedigree name":       KeyNombrePedigree,

	"país":    KeyPais,
	"pais":    KeyPais,
	"country": KeyPais,

	"licencia":       KeyLicencia,
	"license number": KeyLicencia,
	"license":        KeyLicencia,

	"club": KeyClub,

	"federación": KeyFederacion,
	"federacion": KeyFederacion,
	"federation": KeyFederacion,

	"equipo": KeyEquipo,
	"team":   KeyEquipo,
}

// DisplayLabel returns the column name used in the output file.
func (k FieldKey) DisplayLabel() string {
	return displayLabels[k]
}

// Valid reports whether k belongs to the closed key set.
func (k FieldKey) Valid() bool {
	_, ok := displayLabels[k]
	return ok
}

// LookupLabel maps raw label text to its canonical key.
func LookupLabel(label string) (FieldKey, bool) {
	key, ok := labelTable[NormalizeLabel(label)]
	return key, ok
}

// ScheduleLabel classifies the labels that belong to a day/date/runs block.
type ScheduleLabel int

const (
	NotSchedule ScheduleLabel = iota
	DateLabel
	RunsLabel
)

// ClassifyScheduleLabel recognizes exactly "Fecha"/"Date" and
// "Mangas"/"Runs", so labels such as "Fecha de nacimiento" are not schedule
// labels.
func ClassifyScheduleLabel(label string) ScheduleLabel {
	switch NormalizeLabel(label) {
	case "fecha", "date":
		return DateLabel
	case "mangas", "runs":
		return RunsLabel
	}
	return NotSchedule
}

// FieldMap holds at most one non-empty value per canonical key.
type FieldMap map[FieldKey]string

// Set stores value under key unless the key already holds a value.
// Empty values are ignored. It reports whether the value was stored.
func (m FieldMap) Set(key FieldKey, value string) bool {
	value = Clean(value)
	if value == "" || !key.Valid() {
		return false
	}
	if m[key] != "" {
		return false
	}
	m[key] = value
	return true
}

// Clone returns a copy of m.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ScheduleEntry is one day/date/runs row of a participant's panel.
type ScheduleEntry struct {
	DayLabel string `json:"day_label"`
	Date     string `json:"date"`
	Runs     string `json:"runs"`
}

// IsZero reports whether every part of the entry is empty.
func (e ScheduleEntry) IsZero() bool {
	return e.DayLabel == "" && e.Date == "" && e.Runs == ""
}
