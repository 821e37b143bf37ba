package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"aftershock-omori/internal/app"
)

var (
	historyLimit   int
	historyCatalog string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recent analysis runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.HistoryOptions{
			Limit:   historyLimit,
			Catalog: historyCatalog,
		}

		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to display")
	historyCmd.Flags().StringVar(&historyCatalog, "catalog", "", "Only show runs for this catalog")
}
