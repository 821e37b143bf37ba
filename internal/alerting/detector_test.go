package alerting

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aftershock-omori/internal/catalog"
	"aftershock-omori/internal/omori"
	"aftershock-omori/internal/sequence"
)

func fitWithLastBin(count int, predicted float64) omori.Result {
	return omori.Result{
		Solution: omori.Solution{Params: omori.Params{K: 100, C: 0.5, P: 1.1}},
		Bins: []omori.FittedBin{
			{DailyBin: sequence.DailyBin{Day: 0, Count: 60}, Predicted: 58},
			{DailyBin: sequence.DailyBin{Day: 1, Count: count}, Predicted: predicted},
		},
	}
}

func testMainShock() sequence.MainShock {
	return sequence.MainShock{Event: catalog.Event{Time: time.Date(2019, 7, 6, 3, 19, 53, 0, time.UTC), Magnitude: 7.1}}
}

func TestDetectorEvaluate(t *testing.T) {
	rule := Rule{ExcessRatio: 2, MinCount: 10, Cooldown: time.Hour}

	cases := map[string]struct {
		count     int
		predicted float64
		want      bool
	}{
		"excess":            {count: 30, predicted: 10, want: true},
		"at threshold":      {count: 20, predicted: 10, want: false},
		"below min count":   {count: 9, predicted: 1, want: false},
		"no prediction":     {count: 30, predicted: 0, want: false},
		"following the law": {count: 11, predicted: 10, want: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDetector(rule, clockwork.NewFakeClock())
			note, ok := d.Evaluate("napa", testMainShock(), fitWithLastBin(tc.count, tc.predicted))
			assert.Equal(t, tc.want, ok)
			if ok {
				assert.Equal(t, "napa", note.Catalog)
				assert.Equal(t, 1, note.Day)
				assert.Equal(t, tc.count, note.Observed)
				assert.Equal(t, "3.00", note.Ratio.StringFixed(2))
				assert.Equal(t, "7.1", note.MainShockMag.String())
			}
		})
	}
}

func TestDetectorCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDetector(Rule{ExcessRatio: 2, MinCount: 1, Cooldown: time.Hour}, clock)
	fit := fitWithLastBin(30, 5)

	_, ok := d.Evaluate("napa", testMainShock(), fit)
	require.True(t, ok)
	d.MarkSent("napa")

	_, ok = d.Evaluate("napa", testMainShock(), fit)
	assert.False(t, ok, "cooling down")

	_, ok = d.Evaluate("ridgecrest", testMainShock(), fit)
	assert.True(t, ok, "cooldown is per catalog")

	clock.Advance(time.Hour)
	_, ok = d.Evaluate("napa", testMainShock(), fit)
	assert.True(t, ok)
}

func TestDetectorEmptyFit(t *testing.T) {
	d := NewDetector(Rule{ExcessRatio: 2}, nil)
	_, ok := d.Evaluate("napa", testMainShock(), omori.Result{})
	assert.False(t, ok)
}
