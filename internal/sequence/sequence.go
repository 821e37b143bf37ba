// Package sequence extracts an aftershock sequence from a cleaned catalog:
// it selects the main shock and bins the events that follow it into a daily
// count series.
package sequence

import (
	"errors"
	"math"
	"sort"
	"time"

	"aftershock-omori/internal/catalog"
)

const secondsPerDay = 24 * 60 * 60

// ErrEmptyCatalog is returned when no valid events reach the selector.
var ErrEmptyCatalog = errors.New("sequence: catalog has no valid events")

// MainShock is the largest event of the catalog, the time origin of the sequence.
type MainShock struct {
	catalog.Event
}

// Aftershock is an event strictly after the main shock.
type Aftershock struct {
	catalog.Event
	ElapsedDays float64
}

// DailyBin counts aftershocks whose floor(ElapsedDays) equals Day.
type DailyBin struct {
	Day   int
	Count int
}

// FitDay shifts the time origin by one day so the decay model is never
// evaluated at t = 0.
func (b DailyBin) FitDay() float64 {
	return float64(b.Day + 1)
}

// Options tune aggregation.
type Options struct {
	// FillGaps emits zero-count bins for quiet days between the first and
	// last observed day, producing a contiguous series.
	FillGaps bool
}

// DefaultOptions returns the aggregation defaults.
func DefaultOptions() Options {
	return Options{FillGaps: true}
}

// Sequence is the aggregated aftershock series of one main shock.
type Sequence struct {
	Aftershocks []Aftershock
	Bins        []DailyBin
}

// Total returns the number of aftershocks.
func (s Sequence) Total() int {
	return len(s.Aftershocks)
}

// ObservedDays counts bins with at least one aftershock.
func (s Sequence) ObservedDays() int {
	n := 0
	for _, b := range s.Bins {
		if b.Count > 0 {
			n++
		}
	}
	return n
}

// SelectMainShock returns the maximum-magnitude event. Ties go to the event
// seen first.
func SelectMainShock(events []catalog.Event) (MainShock, error) {
	if len(events) == 0 {
		return MainShock{}, ErrEmptyCatalog
	}

	best := events[0]
	for _, ev := range events[1:] {
		if ev.Magnitude > best.Magnitude {
			best = ev
		}
	}
	return MainShock{Event: best}, nil
}

// ElapsedDays returns the fractional number of days from origin to t.
func ElapsedDays(origin, t time.Time) float64 {
	return t.Sub(origin).Seconds() / secondsPerDay
}

// Aggregate keeps events strictly after the main shock and counts them per
// whole elapsed day. An empty result is valid; rejecting short series is the
// fitter's job.
func Aggregate(events []catalog.Event, main MainShock, opts Options) Sequence {
	aftershocks := make([]Aftershock, 0, len(events))
	counts := make(map[int]int)

	for _, ev := range events {
		elapsed := ElapsedDays(main.Time, ev.Time)
		if !(elapsed > 0) {
			continue
		}
		aftershocks = append(aftershocks, Aftershock{Event: ev, ElapsedDays: elapsed})
		counts[int(math.Floor(elapsed))]++
	}

	if len(counts) == 0 {
		return Sequence{Aftershocks: aftershocks}
	}

	days := make([]int, 0, len(counts))
	for day := range counts {
		days = append(days, day)
	}
	sort.Ints(days)

	var bins []DailyBin
	if opts.FillGaps {
		first, last := days[0], days[len(days)-1]
		bins = make([]DailyBin, 0, last-first+1)
		for day := first; day <= last; day++ {
			bins = append(bins, DailyBin{Day: day, Count: counts[day]})
		}
	} else {
		bins = make([]DailyBin, 0, len(days))
		for _, day := range days {
			bins = append(bins, DailyBin{Day: day, Count: counts[day]})
		}
	}

	return Sequence{Aftershocks: aftershocks, Bins: bins}
}
