package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"aftershock-omori/internal/catalog"
	"aftershock-omori/internal/report"
)

// Source yields the raw records of one catalog.
type Source interface {
	Name() string
	Records(ctx context.Context) ([]catalog.Record, error)
}

// FileSource reads a catalog CSV from disk.
type FileSource struct {
	Path  string
	Label string
}

// Name returns the label, or the file name without extension.
func (f FileSource) Name() string {
	if f.Label != "" {
		return f.Label
	}
	return report.CatalogName(f.Path)
}

// Records loads the file.
func (f FileSource) Records(ctx context.Context) ([]catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return catalog.LoadFile(f.Path)
}

// USGSSource downloads a sliding window ending at the current time.
type USGSSource struct {
	Label    string
	Fetcher  catalog.Fetcher
	Template catalog.Query
	Lookback time.Duration
	Clock    clockwork.Clock
}

// Name returns the configured label.
func (u USGSSource) Name() string {
	return u.Label
}

// Query returns the request for the window [now-Lookback, now].
func (u USGSSource) Query() catalog.Query {
	clock := u.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	q := u.Template
	q.End = clock.Now().UTC()
	q.Start = q.End.Add(-u.Lookback)
	return q
}

// Records fetches and parses the window.
func (u USGSSource) Records(ctx context.Context) ([]catalog.Record, error) {
	raw, err := u.Fetcher.Fetch(ctx, u.Query())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Label, err)
	}
	records, err := catalog.ReadCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Label, err)
	}
	return records, nil
}
