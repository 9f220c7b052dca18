package participant

// Extraction is what one strategy read out of a detail panel.
type Extraction struct {
	Fields   FieldMap
	Schedule []ScheduleEntry
}

// NewExtraction returns an Extraction ready for Fields.Set.
func NewExtraction() Extraction {
	return Extraction{Fields: FieldMap{}}
}

// Empty reports whether no field and no dated or run-bearing schedule
// entry was found.
func (e Extraction) Empty() bool {
	for _, v := range e.Fields {
		if v != "" {
			return false
		}
	}
	for _, s := range e.Schedule {
		if s.Date != "" || s.Runs != "" {
			return false
		}
	}
	return true
}
