package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aftershock-omori/internal/app"
	"aftershock-omori/internal/catalog"
)

var (
	fetchStart        string
	fetchEnd          string
	fetchMinMagnitude float64
	fetchLatitude     float64
	fetchLongitude    float64
	fetchMaxRadiusKm  float64
	fetchOutput       string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download an event catalog from the USGS FDSN service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchStart == "" || fetchEnd == "" {
			return fmt.Errorf("--start and --end must be provided")
		}

		start, err := time.Parse(time.RFC3339, fetchStart)
		if err != nil {
			return fmt.Errorf("invalid --start value: %w", err)
		}

		end, err := time.Parse(time.RFC3339, fetchEnd)
		if err != nil {
			return fmt.Errorf("invalid --end value: %w", err)
		}

		query := catalog.Query{
			Start:        start,
			End:          end,
			MinMagnitude: fetchMinMagnitude,
		}
		if cmd.Flags().Changed("latitude") || cmd.Flags().Changed("longitude") {
			if !cmd.Flags().Changed("latitude") || !cmd.Flags().Changed("longitude") {
				return fmt.Errorf("--latitude and --longitude must be set together")
			}
			query.Latitude = fetchLatitude
			query.Longitude = fetchLongitude
			query.MaxRadiusKm = fetchMaxRadiusKm
		}

		return getApp().Fetch(cmd.Context(), app.FetchOptions{Query: query, Output: fetchOutput})
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "Start timestamp (RFC3339, inclusive)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "End timestamp (RFC3339, exclusive)")
	fetchCmd.Flags().Float64Var(&fetchMinMagnitude, "min-magnitude", 2.5, "Minimum magnitude")
	fetchCmd.Flags().Float64Var(&fetchLatitude, "latitude", 0, "Circle centre latitude")
	fetchCmd.Flags().Float64Var(&fetchLongitude, "longitude", 0, "Circle centre longitude")
	fetchCmd.Flags().Float64Var(&fetchMaxRadiusKm, "max-radius-km", 100, "Circle radius in kilometres")
	fetchCmd.Flags().StringVar(&fetchOutput, "output", "", "Destination CSV path")
}
