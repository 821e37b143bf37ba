package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "omori"

// Analysis outcome label values.
const (
	OutcomeSuccess          = "success"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeFitFailed        = "fit_failed"
	OutcomeError            = "error"
)

// Metrics holds the Prometheus collectors for analysis runs.
type Metrics struct {
	AnalysesTotal  *prometheus.CounterVec // labels: outcome
	FitDuration    prometheus.Histogram
	FitEvaluations prometheus.Histogram
	Aftershocks    prometheus.Histogram
	LastRSquared   *prometheus.GaugeVec // labels: catalog
	AlertsSent     prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed analysis runs by outcome.",
		}, []string{"outcome"}),
		FitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Wall time of the Omori least-squares fit.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		FitEvaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_evaluations",
			Help:      "Model evaluations spent per successful fit.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 1000, 10000},
		}),
		Aftershocks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aftershocks",
			Help:      "Aftershocks per analysed sequence.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
		}),
		LastRSquared: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_r_squared",
			Help:      "Coefficient of determination of the latest fit per catalog.",
		}, []string{"catalog"}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_excess_alerts_total",
			Help:      "Rate-excess notifications dispatched.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AnalysesTotal,
		m.FitDuration,
		m.FitEvaluations,
		m.Aftershocks,
		m.LastRSquared,
		m.AlertsSent,
	}
}

// NewMetrics creates the analysis metrics and registers them with the
// default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting registers the metrics with a fresh registry to avoid
// "already registered" panics across tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m, reg
}
