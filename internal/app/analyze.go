package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"aftershock-omori/internal/service"
)

// Analyze runs one catalog through the pipeline and prints the result.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	src, err := a.resolveSource(opts.File, opts.Preset)
	if err != nil {
		return err
	}

	analyzer, closer, err := a.newAnalyzer(ctx, analyzerSetup{
		OutputDir: opts.OutputDir,
		Persist:   !opts.NoPersist,
		Alerts:    true,
	})
	if err != nil {
		return err
	}
	defer closer()

	out, err := analyzer.Analyze(ctx, src)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", src.Name(), err)
	}
	return printOutcome(a.Out, out)
}

// Batch analyses several catalogs concurrently and prints one line per catalog.
func (a *App) Batch(ctx context.Context, opts BatchOptions) error {
	if len(opts.Files) == 0 {
		return errors.New("at least one catalog file is required")
	}
	if opts.DryRun {
		a.Logger.Warn().Msg("batch dry-run: runs will not be persisted")
	}

	analyzer, closer, err := a.newAnalyzer(ctx, analyzerSetup{
		OutputDir: opts.OutputDir,
		Persist:   !opts.DryRun,
	})
	if err != nil {
		return err
	}
	defer closer()

	sources := make([]service.Source, len(opts.Files))
	for i, f := range opts.Files {
		sources[i] = service.FileSource{Path: f}
	}

	results := analyzer.AnalyzeBatch(ctx, sources, opts.Workers)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Catalog\tMain shock\tAftershocks\tDays\tk\tc\tp\tR²\tStatus")
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\t-\t-\t%s\n", r.Source, sanitizeInline(r.Err.Error()))
			continue
		}
		out := r.Outcome
		fmt.Fprintf(writer, "%s\tM%.1f %s\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\tok\n",
			r.Source,
			out.MainShock.Magnitude,
			out.MainShock.Time.UTC().Format(time.RFC3339),
			out.Sequence.Total(),
			len(out.Fit.Bins),
			out.Fit.Params.K,
			out.Fit.Params.C,
			out.Fit.Params.P,
			out.Fit.RSquared,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	a.Logger.Info().Int("processed", len(results)-failed).Int("failed", failed).Msg("batch complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d catalogs failed", failed, len(results))
	}
	return nil
}

func printOutcome(w io.Writer, out service.Outcome) error {
	fit := out.Fit
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Catalog:\t%s\n", out.Catalog)
	fmt.Fprintf(writer, "Records kept:\t%d of %d\n", out.Clean.Kept, out.Clean.Total)
	fmt.Fprintf(writer, "Main shock:\t%s, M%.1f\n", out.MainShock.Time.UTC().Format(time.RFC3339), out.MainShock.Magnitude)
	fmt.Fprintf(writer, "Total aftershocks:\t%d\n", out.Sequence.Total())
	fmt.Fprintf(writer, "Days analyzed:\t%d (%d with events)\n", len(fit.Bins), out.Sequence.ObservedDays())
	fmt.Fprintf(writer, "Omori law:\t%s\n", fit.Params)
	fmt.Fprintf(writer, "R²:\t%.3f\n", fit.RSquared)
	if fit.CorrelationDefined {
		fmt.Fprintf(writer, "Correlation:\tr = %.3f, p = %.3g\n", fit.Correlation, fit.PValue)
	} else {
		fmt.Fprintln(writer, "Correlation:\tundefined (constant series)")
	}
	fmt.Fprintf(writer, "Fit:\t%s domain, %d evaluations\n", fit.Domain, fit.Evaluations)
	for _, p := range []string{out.Report.PNG, out.Report.Summary, out.Report.CSV} {
		if p != "" {
			fmt.Fprintf(writer, "Wrote:\t%s\n", p)
		}
	}
	if out.Alerted {
		fmt.Fprintln(writer, "Alert:\trate-excess notification sent")
	}
	return writer.Flush()
}
