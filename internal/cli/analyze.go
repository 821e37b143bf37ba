package cli

import (
	"github.com/spf13/cobra"

	"aftershock-omori/internal/app"
)

var (
	analyzeFile      string
	analyzePreset    string
	analyzeOutputDir string
	analyzeNoPersist bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Fit Omori's law to one catalog and write the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnalyzeOptions{
			File:      analyzeFile,
			Preset:    analyzePreset,
			OutputDir: analyzeOutputDir,
			NoPersist: analyzeNoPersist,
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFile, "file", "", "Path to a catalog CSV")
	analyzeCmd.Flags().StringVar(&analyzePreset, "preset", "", "Named catalog from catalog.presets")
	analyzeCmd.Flags().StringVar(&analyzeOutputDir, "output-dir", "", "Override output.dir")
	analyzeCmd.Flags().BoolVar(&analyzeNoPersist, "no-persist", false, "Do not record the run in the database")
}
