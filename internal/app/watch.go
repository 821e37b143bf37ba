package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"aftershock-omori/internal/catalog"
	"aftershock-omori/internal/observability"
	"aftershock-omori/internal/scheduler"
	"aftershock-omori/internal/service"
)

// Watch re-analyses the configured catalogs on every scheduler interval until
// interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sources := a.watchSources()
	if len(sources) == 0 {
		return errors.New("nothing to watch: set catalog.watch_files or enable usgs")
	}

	var metrics *observability.Metrics
	if a.Config.Metrics.Enabled {
		metrics = observability.NewMetrics()
		srv := observability.NewServer(a.Config.Metrics.Addr, nil, a.Logger)
		go func() {
			if err := srv.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Clock, a.Logger)
	if err != nil {
		return err
	}

	analyzer, closer, err := a.newAnalyzer(ctx, analyzerSetup{
		Persist:   true,
		Alerts:    true,
		Metrics:   metrics,
		Scheduler: sched,
	})
	if err != nil {
		return err
	}
	defer closer()

	a.Logger.Info().Int("catalogs", len(sources)).Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch")
	err = analyzer.Run(ctx, sources)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch stopped")
	return nil
}

func (a *App) watchSources() []service.Source {
	sources := make([]service.Source, 0, len(a.Config.Catalog.WatchFiles)+1)
	for _, f := range a.Config.Catalog.WatchFiles {
		sources = append(sources, service.FileSource{Path: f})
	}

	cfg := a.Config.USGS
	if cfg.Enabled {
		template := catalog.Query{MinMagnitude: cfg.MinMagnitude, MaxRadiusKm: cfg.MaxRadiusKm}
		if cfg.Latitude != nil && cfg.Longitude != nil {
			template.Latitude = *cfg.Latitude
			template.Longitude = *cfg.Longitude
		}
		sources = append(sources, service.USGSSource{
			Label:    cfg.Name,
			Fetcher:  a.newFetcher(),
			Template: template,
			Lookback: cfg.Lookback,
			Clock:    a.Clock,
		})
	}
	return sources
}
