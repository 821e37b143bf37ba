package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean_DropsInvalidRecords(t *testing.T) {
	ts := time.Date(2023, 2, 6, 1, 17, 34, 0, time.FixedZone("TRT", 3*3600))
	mag := 7.8
	lat := 37.17

	records := []Record{
		{Line: 2, Time: &ts, Magnitude: &mag, Latitude: &lat},
		{Line: 3, Time: nil, Magnitude: &mag},
		{Line: 4, Time: &ts, Magnitude: nil},
		{Line: 5, Time: nil, Magnitude: nil},
		{Line: 6, Time: &ts, Magnitude: &mag},
	}

	events, stats := Clean(records)
	require.Len(t, events, 2)

	assert.Equal(t, CleanStats{Total: 5, Kept: 2, MissingTime: 2, MissingMagnitude: 2}, stats)
	assert.Equal(t, 3, stats.Dropped())

	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, 1, events[1].Index)
	assert.Equal(t, time.UTC, events[0].Time.Location())
	assert.True(t, ts.Equal(events[0].Time))
	assert.Equal(t, 7.8, events[0].Magnitude)
	require.NotNil(t, events[0].Latitude)
	assert.Equal(t, 37.17, *events[0].Latitude)
	assert.Nil(t, events[1].Latitude)
}

func TestClean_Empty(t *testing.T) {
	events, stats := Clean(nil)
	assert.Empty(t, events)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Dropped())
}
