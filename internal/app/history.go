package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// History prints recently persisted analysis runs.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, opts.Catalog, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no analysis runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run at (UTC)\tCatalog\tMain shock\tMag\tAftershocks\tDays\tk\tc\tp\tR²\tStatus\tError")

	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.CreatedAt.UTC().Format(time.RFC3339),
			run.Catalog,
			run.MainShockTime.UTC().Format(time.RFC3339),
			run.MainShockMag.StringFixed(1),
			run.Aftershocks,
			run.Days,
			formatDecimal(run.K, 3),
			formatDecimal(run.C, 3),
			formatDecimal(run.P, 3),
			formatDecimal(run.RSquared, 3),
			run.Status,
			errMsg,
		)
	}

	return writer.Flush()
}

func formatDecimal(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
