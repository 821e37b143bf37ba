package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"aftershock-omori/internal/alerting"
	"aftershock-omori/internal/catalog"
	"aftershock-omori/internal/observability"
	"aftershock-omori/internal/omori"
	"aftershock-omori/internal/report"
	"aftershock-omori/internal/scheduler"
	"aftershock-omori/internal/sequence"
	"aftershock-omori/internal/storage"
)

// Reporter writes the artifacts of a successful analysis.
type Reporter interface {
	Write(in report.Input) (report.Paths, error)
}

// Options tune the pipeline stages.
type Options struct {
	Aggregate  sequence.Options
	Fit        omori.Options
	FitTimeout time.Duration
	// Workers bounds concurrent analyses in batch and watch mode.
	Workers int
	// LockKey is the advisory lock guarding watch ticks; zero disables it.
	LockKey int64
}

// Dependencies are the optional collaborators of an Analyzer. Nil members
// disable the corresponding stage.
type Dependencies struct {
	Reporter  Reporter
	Store     storage.RunStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Detector  *alerting.Detector
	Metrics   *observability.Metrics
	Scheduler *scheduler.Scheduler
	Clock     clockwork.Clock
}

// Outcome is the result of analysing one catalog.
type Outcome struct {
	Catalog   string
	Clean     catalog.CleanStats
	MainShock sequence.MainShock
	Sequence  sequence.Sequence
	Fit       omori.Result
	Report    report.Paths
	RunID     uuid.UUID
	Alerted   bool
	Duration  time.Duration
}

// BatchResult pairs a source with its outcome or error.
type BatchResult struct {
	Source  string
	Outcome Outcome
	Err     error
}

// Analyzer runs the aftershock pipeline: load, clean, select the main shock,
// aggregate, fit, then report, persist, alert and record metrics.
type Analyzer struct {
	opts   Options
	deps   Dependencies
	clock  clockwork.Clock
	logger zerolog.Logger
}

// New constructs an Analyzer.
func New(opts Options, deps Dependencies, logger zerolog.Logger) *Analyzer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Analyzer{
		opts:   opts,
		deps:   deps,
		clock:  clock,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Analyze runs the full pipeline for one source. Fit failures are returned as
// the typed errors of package omori; reports are written only on success.
// Persistence and alert failures are logged and do not fail the analysis.
func (a *Analyzer) Analyze(ctx context.Context, src Source) (Outcome, error) {
	started := a.clock.Now()
	out := Outcome{Catalog: src.Name()}
	logger := a.logger.With().Str("catalog", out.Catalog).Logger()

	err := a.analyze(ctx, src, &out, logger)
	out.Duration = a.clock.Since(started)
	a.observe(out, err)

	if err != nil {
		logger.Error().Err(err).Dur("duration", out.Duration).Msg("analysis failed")
		return out, err
	}
	logger.Info().
		Int("aftershocks", out.Sequence.Total()).
		Int("days", len(out.Fit.Bins)).
		Str("law", out.Fit.Params.String()).
		Float64("r_squared", out.Fit.RSquared).
		Dur("duration", out.Duration).
		Msg("analysis complete")
	return out, nil
}

func (a *Analyzer) analyze(ctx context.Context, src Source, out *Outcome, logger zerolog.Logger) error {
	records, err := src.Records(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	events, stats := catalog.Clean(records)
	out.Clean = stats
	if stats.Dropped() > 0 {
		logger.Warn().
			Int("missing_time", stats.MissingTime).
			Int("missing_magnitude", stats.MissingMagnitude).
			Int("kept", stats.Kept).
			Msg("dropped invalid catalog records")
	}

	main, err := sequence.SelectMainShock(events)
	if err != nil {
		return err
	}
	out.MainShock = main
	out.Sequence = sequence.Aggregate(events, main, a.opts.Aggregate)
	logger.Debug().
		Time("main_shock_time", main.Time).
		Float64("main_shock_mag", main.Magnitude).
		Int("aftershocks", out.Sequence.Total()).
		Int("observed_days", out.Sequence.ObservedDays()).
		Msg("sequence aggregated")

	fit, err := a.fit(ctx, out.Sequence.Bins)
	if err != nil {
		a.persist(ctx, out, err, logger)
		return err
	}
	out.Fit = fit

	if a.deps.Reporter != nil {
		paths, err := a.deps.Reporter.Write(report.Input{
			Name:        out.Catalog,
			MainShock:   main,
			Sequence:    out.Sequence,
			Fit:         fit,
			GeneratedAt: a.clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		out.Report = paths
	}

	a.persist(ctx, out, nil, logger)
	a.alert(ctx, out, logger)
	return nil
}

func (a *Analyzer) fit(ctx context.Context, bins []sequence.DailyBin) (omori.Result, error) {
	if a.opts.FitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.FitTimeout)
		defer cancel()
	}

	started := a.clock.Now()
	res, err := omori.Fit(ctx, bins, a.opts.Fit)
	if m := a.deps.Metrics; m != nil && err == nil {
		m.FitDuration.Observe(a.clock.Since(started).Seconds())
		m.FitEvaluations.Observe(float64(res.Evaluations))
	}
	return res, err
}

func (a *Analyzer) persist(ctx context.Context, out *Outcome, fitErr error, logger zerolog.Logger) {
	if a.deps.Store == nil {
		return
	}

	run := storage.AnalysisRun{
		ID:            uuid.New(),
		Catalog:       out.Catalog,
		MainShockTime: out.MainShock.Time,
		MainShockMag:  decimal.NewFromFloat(out.MainShock.Magnitude),
		Aftershocks:   out.Sequence.Total(),
		Days:          len(out.Sequence.Bins),
		Status:        storage.StatusComplete,
		CreatedAt:     a.clock.Now().UTC(),
	}
	if fitErr != nil {
		msg := fitErr.Error()
		run.Status = storage.StatusFailed
		run.Error = &msg
	} else {
		run.K = storage.Decimal(out.Fit.Params.K, 6)
		run.C = storage.Decimal(out.Fit.Params.C, 6)
		run.P = storage.Decimal(out.Fit.Params.P, 6)
		run.RSquared = storage.Decimal(out.Fit.RSquared, 6)
		if out.Fit.CorrelationDefined {
			run.Correlation = storage.Decimal(out.Fit.Correlation, 6)
			run.PValue = storage.Decimal(out.Fit.PValue, 12)
		}
	}

	saved, err := a.deps.Store.InsertRun(ctx, run)
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist analysis run")
		return
	}
	out.RunID = saved.ID
}

func (a *Analyzer) alert(ctx context.Context, out *Outcome, logger zerolog.Logger) {
	if a.deps.Detector == nil || a.deps.Notifier == nil {
		return
	}
	note, ok := a.deps.Detector.Evaluate(out.Catalog, out.MainShock, out.Fit)
	if !ok {
		return
	}
	if err := a.deps.Notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Int("day", note.Day).Msg("failed to dispatch rate-excess alert")
		return
	}
	a.deps.Detector.MarkSent(out.Catalog)
	out.Alerted = true
	if a.deps.Metrics != nil {
		a.deps.Metrics.AlertsSent.Inc()
	}
}

func (a *Analyzer) observe(out Outcome, err error) {
	m := a.deps.Metrics
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(Classify(err)).Inc()
	if err == nil {
		m.Aftershocks.Observe(float64(out.Sequence.Total()))
		m.LastRSquared.WithLabelValues(out.Catalog).Set(out.Fit.RSquared)
	}
}

// Classify maps an analysis error onto its metrics outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, omori.ErrInsufficientData), errors.Is(err, sequence.ErrEmptyCatalog):
		return observability.OutcomeInsufficientData
	case errors.Is(err, omori.ErrFitFailed):
		return observability.OutcomeFitFailed
	default:
		return observability.OutcomeError
	}
}

// AnalyzeBatch analyses independent sources concurrently, at most workers at
// a time. Results keep the order of sources; one failure does not cancel the
// others.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, sources []Source, workers int) []BatchResult {
	if workers <= 0 {
		workers = a.opts.Workers
	}
	results := make([]BatchResult, len(sources))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			out, err := a.Analyze(ctx, src)
			results[i] = BatchResult{Source: src.Name(), Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run re-analyses the sources on every scheduler tick until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context, sources []Source) error {
	if a.deps.Scheduler == nil {
		return errors.New("scheduler not configured")
	}
	if len(sources) == 0 {
		return errors.New("no catalogs to watch")
	}
	return a.deps.Scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		return a.ProcessTick(ctx, bucket, sources)
	})
}

// ProcessTick runs one watch iteration, skipping it when another instance
// holds the advisory lock.
func (a *Analyzer) ProcessTick(ctx context.Context, bucket time.Time, sources []Source) error {
	unlock, proceed, err := a.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		a.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	results := a.AnalyzeBatch(ctx, sources, a.opts.Workers)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	a.logger.Info().Time("bucket", bucket).Int("catalogs", len(results)).Int("failed", failed).Msg("watch tick complete")
	if failed == len(results) {
		return fmt.Errorf("all %d analyses failed", failed)
	}
	return nil
}

func (a *Analyzer) acquireLock(ctx context.Context) (func(), bool, error) {
	if a.opts.LockKey == 0 || a.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := a.deps.Locker.TryAdvisoryLock(ctx, a.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
