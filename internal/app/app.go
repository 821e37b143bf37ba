package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"aftershock-omori/internal/alerting"
	"aftershock-omori/internal/catalog"
	"aftershock-omori/internal/config"
	"aftershock-omori/internal/observability"
	"aftershock-omori/internal/report"
	"aftershock-omori/internal/scheduler"
	"aftershock-omori/internal/sequence"
	"aftershock-omori/internal/service"
	"aftershock-omori/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clockwork.Clock
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Clock:  clockwork.NewRealClock(),
		Out:    os.Stdout,
	}
}

// analyzerSetup selects the optional stages of an analyzer.
type analyzerSetup struct {
	OutputDir string
	Persist   bool
	Alerts    bool
	Metrics   *observability.Metrics
	Scheduler *scheduler.Scheduler
}

// newAnalyzer builds a service.Analyzer from configuration. The returned
// closer releases the database pool and is never nil.
func (a *App) newAnalyzer(ctx context.Context, setup analyzerSetup) (*service.Analyzer, func(), error) {
	fitOpts, err := a.Config.Fit.Options()
	if err != nil {
		return nil, nil, err
	}

	outDir := a.Config.Output.Dir
	if setup.OutputDir != "" {
		outDir = setup.OutputDir
	}

	deps := service.Dependencies{
		Reporter: report.New(report.Options{
			Dir:     outDir,
			PNG:     a.Config.Output.PNG,
			Summary: a.Config.Output.Summary,
			CSV:     a.Config.Output.CSV,
			Width:   a.Config.Output.Width,
			Height:  a.Config.Output.Height,
		}),
		Metrics:   setup.Metrics,
		Scheduler: setup.Scheduler,
		Clock:     a.Clock,
	}

	closer := func() {}
	if setup.Persist {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if store == nil {
			a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
		} else {
			deps.Store = store
			deps.Locker = store
			closer = closeStore
		}
	}

	if setup.Alerts {
		deps.Notifier, deps.Detector = a.newAlerting()
	}

	analyzer := service.New(service.Options{
		Aggregate:  sequence.Options{FillGaps: a.Config.Aggregate.FillGaps},
		Fit:        fitOpts,
		FitTimeout: a.Config.Fit.Timeout,
		Workers:    a.Config.Scheduler.Workers,
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger)
	return analyzer, closer, nil
}

func (a *App) newAlerting() (alerting.Notifier, *alerting.Detector) {
	if !a.Config.Alerting.Enabled {
		return nil, nil
	}
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil, nil
	}
	detector := alerting.NewDetector(alerting.Rule{
		ExcessRatio: a.Config.Alerting.ExcessRatio,
		MinCount:    a.Config.Alerting.MinCount,
		Cooldown:    a.Config.Alerting.Cooldown,
	}, a.Clock)
	return notifier, detector
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newFetcher() *catalog.USGS {
	return catalog.NewUSGS(catalog.USGSOptions{
		BaseURL:   a.Config.USGS.BaseURL,
		Timeout:   a.Config.USGS.RequestTimeout,
		UserAgent: a.Config.USGS.UserAgent,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// resolveSource picks the catalog for analyze: --file, then --preset, then
// catalog.default.
func (a *App) resolveSource(file, preset string) (service.Source, error) {
	switch {
	case file != "" && preset != "":
		return nil, errors.New("--file and --preset are mutually exclusive")
	case file != "":
		return service.FileSource{Path: file}, nil
	case preset != "":
		path, err := a.Config.ResolvePreset(preset)
		if err != nil {
			return nil, err
		}
		return service.FileSource{Path: path, Label: preset}, nil
	case a.Config.Catalog.Default != "":
		path, err := a.Config.ResolvePreset(a.Config.Catalog.Default)
		if err != nil {
			return nil, err
		}
		return service.FileSource{Path: path, Label: a.Config.Catalog.Default}, nil
	default:
		names := a.Config.PresetNames()
		if len(names) == 0 {
			return nil, errors.New("no catalog selected: pass --file or configure catalog.presets")
		}
		return nil, fmt.Errorf("no catalog selected: pass --file or --preset (one of %v)", names)
	}
}

// AnalyzeOptions configure a single analysis.
type AnalyzeOptions struct {
	File      string
	Preset    string
	OutputDir string
	NoPersist bool
}

// BatchOptions configure a batch analysis of several catalogs.
type BatchOptions struct {
	Files     []string
	Workers   int
	OutputDir string
	DryRun    bool
}

// FetchOptions configure a catalog download.
type FetchOptions struct {
	Query  catalog.Query
	Output string
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit   int
	Catalog string
}

// SimulateOptions describe a synthetic rate-excess alert.
type SimulateOptions struct {
	Catalog   string
	Observed  int
	Predicted float64
}
