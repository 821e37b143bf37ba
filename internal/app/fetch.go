package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Fetch downloads a catalog from the FDSN event service and writes it as CSV.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) error {
	if opts.Output == "" {
		return fmt.Errorf("--output is required")
	}
	if err := opts.Query.Validate(); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}

	raw, err := a.newFetcher().Fetch(ctx, opts.Query)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(opts.Output); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(opts.Output, raw, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}

	a.Logger.Info().Str("path", opts.Output).Int("bytes", len(raw)).Msg("catalog downloaded")
	fmt.Fprintf(a.Out, "Wrote %s\n", opts.Output)
	return nil
}
