package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"aftershock-omori/internal/app"
)

var (
	simulateCatalog   string
	simulateObserved  int
	simulatePredicted float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic rate-excess alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateObserved <= 0 || simulatePredicted <= 0 {
			return errors.New("--observed and --predicted must be greater than 0")
		}

		opts := app.SimulateOptions{
			Catalog:   simulateCatalog,
			Observed:  simulateObserved,
			Predicted: simulatePredicted,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCatalog, "catalog", "simulation", "Catalog name shown in the alert")
	simulateCmd.Flags().IntVar(&simulateObserved, "observed", 0, "Observed aftershocks on the latest day")
	simulateCmd.Flags().Float64Var(&simulatePredicted, "predicted", 0, "Count predicted by the fitted law")
}
