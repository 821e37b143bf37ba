package alerting

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"aftershock-omori/internal/omori"
	"aftershock-omori/internal/sequence"
)

// Rule sets when the latest day counts as a rate excess.
type Rule struct {
	// ExcessRatio is the observed/predicted ratio that must be exceeded.
	ExcessRatio float64
	// MinCount is the smallest observed count worth alerting on.
	MinCount int
	// Cooldown suppresses repeat alerts for the same catalog.
	Cooldown time.Duration
}

// Detector flags sequences whose most recent day outruns the fitted decay,
// a hint of a secondary sequence. It is safe for concurrent use.
type Detector struct {
	rule  Rule
	clock clockwork.Clock

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewDetector constructs a Detector. A nil clock uses the real clock.
func NewDetector(rule Rule, clock clockwork.Clock) *Detector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Detector{rule: rule, clock: clock, sent: make(map[string]time.Time)}
}

// Evaluate inspects the last fitted bin. It returns a notification when the
// bin exceeds the rule and the catalog is not cooling down.
func (d *Detector) Evaluate(catalog string, main sequence.MainShock, fit omori.Result) (Notification, bool) {
	if len(fit.Bins) == 0 {
		return Notification{}, false
	}
	last := fit.Bins[len(fit.Bins)-1]
	if last.Count < d.rule.MinCount || last.Predicted <= 0 {
		return Notification{}, false
	}

	ratio := float64(last.Count) / last.Predicted
	if ratio <= d.rule.ExcessRatio {
		return Notification{}, false
	}

	d.mu.Lock()
	at, ok := d.sent[catalog]
	d.mu.Unlock()
	if ok && d.clock.Since(at) < d.rule.Cooldown {
		return Notification{}, false
	}

	return Notification{
		Catalog:       catalog,
		MainShockTime: main.Time,
		MainShockMag:  decimal.NewFromFloat(main.Magnitude),
		Day:           last.Day,
		Observed:      last.Count,
		Predicted:     decimal.NewFromFloat(last.Predicted),
		Ratio:         decimal.NewFromFloat(ratio),
		Threshold:     decimal.NewFromFloat(d.rule.ExcessRatio),
		Law:           fit.Params.String(),
	}, true
}

// MarkSent starts the cooldown for a catalog.
func (d *Detector) MarkSent(catalog string) {
	d.mu.Lock()
	d.sent[catalog] = d.clock.Now()
	d.mu.Unlock()
}
