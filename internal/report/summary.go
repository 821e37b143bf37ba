package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"aftershock-omori/internal/omori"
)

func writeSummary(w io.Writer, in Input) error {
	fit := in.Fit
	lines := []string{
		fmt.Sprintf("Catalog: %s", in.Name),
		fmt.Sprintf("Main shock: %s, M%.1f", in.MainShock.Time.UTC().Format(time.RFC3339), in.MainShock.Magnitude),
		fmt.Sprintf("Total aftershocks: %d", in.Sequence.Total()),
		fmt.Sprintf("Days analyzed: %d", len(fit.Bins)),
		fmt.Sprintf("k = %.3f", fit.Params.K),
		fmt.Sprintf("c = %.3f", fit.Params.C),
		fmt.Sprintf("p = %.3f", fit.Params.P),
		fmt.Sprintf("R² = %.3f", fit.RSquared),
	}
	if fit.CorrelationDefined {
		lines = append(lines, fmt.Sprintf("Correlation r = %.3f (p-value %.3g)", fit.Correlation, fit.PValue))
	} else {
		lines = append(lines, "Correlation r = undefined (constant series)")
	}
	if fit.StdErr != nil {
		lines = append(lines, fmt.Sprintf("Standard errors: k ± %.3f, c ± %.3f, p ± %.3f", fit.StdErr[0], fit.StdErr[1], fit.StdErr[2]))
	}
	lines = append(lines,
		fmt.Sprintf("Fit domain: %s", fit.Domain),
		fmt.Sprintf("Evaluations: %d", fit.Evaluations),
	)
	if !in.GeneratedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Generated: %s", in.GeneratedAt.UTC().Format(time.RFC3339)))
	}

	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func writeDailyCSV(w io.Writer, bins []omori.FittedBin) error {
	writer := csv.NewWriter(w)

	header := []string{"day", "count", "fit_day", "predicted_count", "residual"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, b := range bins {
		record := []string{
			strconv.Itoa(b.Day),
			strconv.Itoa(b.Count),
			strconv.FormatFloat(b.FitDay(), 'f', -1, 64),
			strconv.FormatFloat(b.Predicted, 'f', 6, 64),
			strconv.FormatFloat(b.Residual, 'f', 6, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
