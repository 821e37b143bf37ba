package catalog

import "time"

// Record is a catalog row as read from the source. Fields are nil when the
// source value was missing or could not be parsed.
type Record struct {
	Line      int // 1-based source line, header included
	Time      *time.Time
	Magnitude *float64
	Latitude  *float64
	Longitude *float64
}

// Valid reports whether the record carries both a timestamp and a magnitude.
func (r Record) Valid() bool {
	return r.Time != nil && r.Magnitude != nil
}

// Event is a cleaned catalog record. Only valid records become events.
type Event struct {
	Index     int // position in the cleaned catalog
	Time      time.Time
	Magnitude float64
	Latitude  *float64
	Longitude *float64
}
