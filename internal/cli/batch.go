package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"aftershock-omori/internal/app"
)

var (
	batchWorkers   int
	batchOutputDir string
	batchDryRun    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <catalog.csv>...",
	Short: "Analyse several catalogs concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchWorkers <= 0 {
			return fmt.Errorf("--workers must be greater than zero")
		}

		opts := app.BatchOptions{
			Files:     args,
			Workers:   batchWorkers,
			OutputDir: batchOutputDir,
			DryRun:    batchDryRun,
		}
		return getApp().Batch(cmd.Context(), opts)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 2, "Number of concurrent workers")
	batchCmd.Flags().StringVar(&batchOutputDir, "output-dir", "", "Override output.dir")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "Run without writing to storage")
}
