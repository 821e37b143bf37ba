package storage

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run status values.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// AnalysisRun is one persisted analysis of a catalog. Fit columns are nil
// for failed runs.
type AnalysisRun struct {
	ID            uuid.UUID
	Catalog       string
	MainShockTime time.Time
	MainShockMag  decimal.Decimal
	Aftershocks   int
	Days          int
	K             *decimal.Decimal
	C             *decimal.Decimal
	P             *decimal.Decimal
	RSquared      *decimal.Decimal
	Correlation   *decimal.Decimal
	PValue        *decimal.Decimal
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// Decimal rounds v to places for a NUMERIC column. Non-finite values map to nil.
func Decimal(v float64, places int32) *decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	d := decimal.NewFromFloat(v).Round(places)
	return &d
}
