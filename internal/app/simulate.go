package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"aftershock-omori/internal/alerting"
)

// SimulateAlert sends a synthetic rate-excess notification through the
// configured channel, to check alert delivery end to end.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}
	if opts.Predicted <= 0 {
		return errors.New("predicted count must be greater than zero")
	}

	note := alerting.Notification{
		Catalog:       opts.Catalog,
		MainShockTime: a.Clock.Now().UTC(),
		MainShockMag:  decimal.Zero,
		Observed:      opts.Observed,
		Predicted:     decimal.NewFromFloat(opts.Predicted),
		Ratio:         decimal.NewFromInt(int64(opts.Observed)).Div(decimal.NewFromFloat(opts.Predicted)),
		Threshold:     decimal.NewFromFloat(a.Config.Alerting.ExcessRatio),
		AdditionalMsg: "(simulated)",
	}
	return notifier.Notify(ctx, note)
}
