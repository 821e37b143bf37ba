package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aftershock-omori/internal/alerting"
	"aftershock-omori/internal/catalog"
	"aftershock-omori/internal/observability"
	"aftershock-omori/internal/omori"
	"aftershock-omori/internal/report"
	"aftershock-omori/internal/sequence"
	"aftershock-omori/internal/storage"
)

var mainShockTime = time.Date(2019, 7, 6, 3, 19, 53, 0, time.UTC)

type memoryStore struct {
	mu   sync.Mutex
	runs []storage.AnalysisRun
	err  error
}

func (m *memoryStore) InsertRun(_ context.Context, run storage.AnalysisRun) (storage.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return storage.AnalysisRun{}, m.err
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memoryStore) ListRecentRuns(_ context.Context, _ string, limit int) ([]storage.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[:min(limit, len(m.runs))], nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

type stubLocker struct {
	acquired bool
	calls    int
	released int
}

func (s *stubLocker) TryAdvisoryLock(_ context.Context, _ int64) (func(), bool, error) {
	s.calls++
	if !s.acquired {
		return nil, false, nil
	}
	return func() { s.released++ }, true, nil
}

// writeCatalog writes a USGS-style CSV with a M7.1 main shock and counts[d]
// aftershocks on day d.
func writeCatalog(t *testing.T, dir, name string, counts []int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("time,latitude,longitude,depth,mag,magType\n")
	fmt.Fprintf(&b, "%s,35.77,-117.60,8.0,7.1,mw\n", mainShockTime.Format(time.RFC3339Nano))
	for day, n := range counts {
		for j := 0; j < n; j++ {
			at := mainShockTime.Add(time.Duration(day)*24*time.Hour + time.Duration(j+1)*time.Minute)
			fmt.Fprintf(&b, "%s,35.7,-117.5,5.0,%.1f,ml\n", at.Format(time.RFC3339Nano), 2.5+float64(j%20)/10)
		}
	}
	path := filepath.Join(dir, name+".csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func omoriCounts(days int) []int {
	counts := make([]int, days)
	for d := range counts {
		counts[d] = int(math.Round(omori.Rate(float64(d+1), omori.Params{K: 200, C: 0.5, P: 1.1})))
	}
	return counts
}

type fixture struct {
	analyzer *Analyzer
	store    *memoryStore
	notifier *recordingNotifier
	metrics  *observability.Metrics
	outDir   string
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics, _ := observability.NewMetricsForTesting()
	f := &fixture{
		store:    &memoryStore{},
		notifier: &recordingNotifier{},
		metrics:  metrics,
		outDir:   filepath.Join(t.TempDir(), "reports"),
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.analyzer = New(Options{
		Aggregate:  sequence.DefaultOptions(),
		Fit:        omori.DefaultOptions(),
		FitTimeout: 10 * time.Second,
		Workers:    2,
	}, Dependencies{
		Reporter: report.New(report.Options{Dir: f.outDir, Summary: true, CSV: true}),
		Store:    f.store,
		Notifier: f.notifier,
		Detector: alerting.NewDetector(alerting.Rule{ExcessRatio: 2, MinCount: 10, Cooldown: time.Hour}, f.clock),
		Metrics:  metrics,
		Clock:    f.clock,
	}, zerolog.Nop())
	return f
}

func TestAnalyzeSuccess(t *testing.T) {
	f := newFixture(t)
	path := writeCatalog(t, t.TempDir(), "ridgecrest", omoriCounts(25))

	out, err := f.analyzer.Analyze(context.Background(), FileSource{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "ridgecrest", out.Catalog)
	assert.Equal(t, 7.1, out.MainShock.Magnitude)
	assert.Len(t, out.Fit.Bins, 25)
	assert.InDelta(t, 1.1, out.Fit.Params.P, 0.05)
	assert.Greater(t, out.Fit.RSquared, 0.99)
	assert.False(t, out.Alerted)

	assert.FileExists(t, out.Report.Summary)
	assert.FileExists(t, out.Report.CSV)
	assert.Empty(t, out.Report.PNG)

	require.Len(t, f.store.runs, 1)
	run := f.store.runs[0]
	assert.Equal(t, out.RunID, run.ID)
	assert.Equal(t, storage.StatusComplete, run.Status)
	assert.Equal(t, "7.1", run.MainShockMag.String())
	require.NotNil(t, run.P)
	assert.Nil(t, run.Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(observability.OutcomeSuccess)))
	assert.InDelta(t, out.Fit.RSquared, testutil.ToFloat64(f.metrics.LastRSquared.WithLabelValues("ridgecrest")), 1e-12)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	f := newFixture(t)
	path := writeCatalog(t, t.TempDir(), "tiny", []int{1, 1})

	_, err := f.analyzer.Analyze(context.Background(), FileSource{Path: path})
	require.ErrorIs(t, err, omori.ErrInsufficientData)

	var insufficient *omori.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Observed)

	_, statErr := os.Stat(filepath.Join(f.outDir, "omori_analysis_tiny_summary.txt"))
	assert.True(t, os.IsNotExist(statErr), "no report after a failed fit")

	require.Len(t, f.store.runs, 1)
	assert.Equal(t, storage.StatusFailed, f.store.runs[0].Status)
	require.NotNil(t, f.store.runs[0].Error)
	assert.Nil(t, f.store.runs[0].K)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(observability.OutcomeInsufficientData)))
}

func TestAnalyzeOnlyInvalidRecords(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "broken.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,mag\nnot-a-time,3.0\n2020-01-01T00:00:00Z,\n"), 0o600))

	out, err := f.analyzer.Analyze(context.Background(), FileSource{Path: path})
	require.ErrorIs(t, err, sequence.ErrEmptyCatalog)
	assert.Equal(t, 2, out.Clean.Dropped())
	assert.Empty(t, f.store.runs)
}

func TestAnalyzeMissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.analyzer.Analyze(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "nope.csv")})
	require.Error(t, err)
	assert.Equal(t, observability.OutcomeError, Classify(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(observability.OutcomeError)))
}

func TestAnalyzeStoreFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection refused")
	path := writeCatalog(t, t.TempDir(), "napa", omoriCounts(15))

	out, err := f.analyzer.Analyze(context.Background(), FileSource{Path: path})
	require.NoError(t, err)
	assert.FileExists(t, out.Report.Summary)
}

func TestAnalyzeRateExcessAlert(t *testing.T) {
	f := newFixture(t)
	counts := omoriCounts(20)
	counts[len(counts)-1] = 60
	path := writeCatalog(t, t.TempDir(), "swarm", counts)

	out, err := f.analyzer.Analyze(context.Background(), FileSource{Path: path})
	require.NoError(t, err)
	assert.True(t, out.Alerted)
	require.Len(t, f.notifier.notes, 1)
	assert.Equal(t, "swarm", f.notifier.notes[0].Catalog)
	assert.Equal(t, 19, f.notifier.notes[0].Day)
	assert.Equal(t, 60, f.notifier.notes[0].Observed)

	_, err = f.analyzer.Analyze(context.Background(), FileSource{Path: path})
	require.NoError(t, err)
	assert.Len(t, f.notifier.notes, 1, "cooldown suppresses the repeat")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsSent))
}

func TestAnalyzeBatch(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	sources := []Source{
		FileSource{Path: writeCatalog(t, dir, "a", omoriCounts(10))},
		FileSource{Path: writeCatalog(t, dir, "b", []int{3})},
		FileSource{Path: writeCatalog(t, dir, "c", omoriCounts(12)), Label: "custom"},
	}

	results := f.analyzer.AnalyzeBatch(context.Background(), sources, 2)
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].Source)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "b", results[1].Source)
	assert.ErrorIs(t, results[1].Err, omori.ErrInsufficientData)
	assert.Equal(t, "custom", results[2].Source)
	assert.NoError(t, results[2].Err)
	assert.Len(t, results[2].Outcome.Fit.Bins, 12)
}

func TestProcessTickRespectsAdvisoryLock(t *testing.T) {
	f := newFixture(t)
	locker := &stubLocker{}
	f.analyzer.opts.LockKey = 42
	f.analyzer.deps.Locker = locker
	sources := []Source{FileSource{Path: writeCatalog(t, t.TempDir(), "a", omoriCounts(10))}}

	require.NoError(t, f.analyzer.ProcessTick(context.Background(), f.clock.Now(), sources))
	assert.Equal(t, 1, locker.calls)
	assert.Empty(t, f.store.runs)

	locker.acquired = true
	require.NoError(t, f.analyzer.ProcessTick(context.Background(), f.clock.Now(), sources))
	assert.Equal(t, 1, locker.released)
	assert.Len(t, f.store.runs, 1)
}

func TestProcessTickAllFailed(t *testing.T) {
	f := newFixture(t)
	sources := []Source{FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")}}
	assert.Error(t, f.analyzer.ProcessTick(context.Background(), f.clock.Now(), sources))
}

func TestRunRequiresScheduler(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.analyzer.Run(context.Background(), []Source{FileSource{Path: "x.csv"}}))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, observability.OutcomeSuccess, Classify(nil))
	assert.Equal(t, observability.OutcomeInsufficientData, Classify(&omori.InsufficientDataError{Observed: 1, Required: 3}))
	assert.Equal(t, observability.OutcomeInsufficientData, Classify(fmt.Errorf("wrap: %w", sequence.ErrEmptyCatalog)))
	assert.Equal(t, observability.OutcomeFitFailed, Classify(&omori.FitError{Reason: omori.ReasonSingular}))
	assert.Equal(t, observability.OutcomeError, Classify(errors.New("disk full")))
}

type fakeFetcher struct {
	body  []byte
	query catalog.Query
}

func (f *fakeFetcher) Fetch(_ context.Context, q catalog.Query) ([]byte, error) {
	f.query = q
	return f.body, nil
}

func TestUSGSSourceWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	fetcher := &fakeFetcher{body: []byte("time,mag\n2026-02-20T00:00:00Z,4.5\n")}
	src := USGSSource{
		Label:    "usgs",
		Fetcher:  fetcher,
		Template: catalog.Query{MinMagnitude: 2.5},
		Lookback: 48 * time.Hour,
		Clock:    clock,
	}

	records, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "usgs", src.Name())
	assert.Equal(t, clock.Now().UTC(), fetcher.query.End)
	assert.Equal(t, clock.Now().UTC().Add(-48*time.Hour), fetcher.query.Start)
	assert.Equal(t, 2.5, fetcher.query.MinMagnitude)
}
