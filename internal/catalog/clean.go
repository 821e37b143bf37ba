package catalog

// CleanStats summarises a cleaning pass.
type CleanStats struct {
	Total            int
	Kept             int
	MissingTime      int
	MissingMagnitude int
}

// Dropped returns the number of records removed by Clean.
func (s CleanStats) Dropped() int {
	return s.Total - s.Kept
}

// Clean applies the drop policy: records without a timestamp or a magnitude
// are removed, nothing is defaulted. Surviving events keep source order and
// are indexed from zero.
func Clean(records []Record) ([]Event, CleanStats) {
	stats := CleanStats{Total: len(records)}
	events := make([]Event, 0, len(records))

	for _, rec := range records {
		if rec.Time == nil {
			stats.MissingTime++
		}
		if rec.Magnitude == nil {
			stats.MissingMagnitude++
		}
		if !rec.Valid() {
			continue
		}
		events = append(events, Event{
			Index:     len(events),
			Time:      rec.Time.UTC(),
			Magnitude: *rec.Magnitude,
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
		})
	}

	stats.Kept = len(events)
	return events, stats
}
