package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the estimator.
type Metrics struct {
	ObservationsLoaded prometheus.Gauge
	SourceFetches      *prometheus.CounterVec // labels: outcome={success,error}
	PipelineReady      prometheus.Gauge

	// Model fitting.
	Fits        *prometheus.CounterVec // labels: outcome, status={ok,not_identified,invalid,error}
	FitDuration prometheus.Histogram
	FitCache    *prometheus.CounterVec // labels: result={hit,miss}

	// Sweeps and output.
	SweepDuration     prometheus.Histogram
	ResultsPublished  prometheus.Counter
	ArtifactsRendered prometheus.Counter
	ArtifactsUploaded prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := NewMetricsForTesting()
	prometheus.MustRegister(
		m.ObservationsLoaded,
		m.SourceFetches,
		m.PipelineReady,
		m.Fits,
		m.FitDuration,
		m.FitCache,
		m.SweepDuration,
		m.ResultsPublished,
		m.ArtifactsRendered,
		m.ArtifactsUploaded,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ObservationsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dst_rdd",
			Name:      "observations_loaded",
			Help:      "Rows in the most recently loaded dataset.",
		}),
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dst_rdd",
			Name:      "source_fetches_total",
			Help:      "Dataset load attempts by outcome.",
		}, []string{"outcome"}),
		PipelineReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dst_rdd",
			Name:      "pipeline_ready",
			Help:      "1 once a sweep has completed and its report is available.",
		}),
		Fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dst_rdd",
			Name:      "fits_total",
			Help:      "Model fits by outcome column and status.",
		}, []string{"outcome", "status"}),
		FitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dst_rdd",
			Name:      "fit_duration_seconds",
			Help:      "Duration of a single model fit.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		FitCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dst_rdd",
			Name:      "fit_cache_total",
			Help:      "Memoized fit lookups by result.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dst_rdd",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a complete outcome x bandwidth x degree sweep.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		ResultsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dst_rdd",
			Name:      "results_published_total",
			Help:      "Model results written to the results topic.",
		}),
		ArtifactsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dst_rdd",
			Name:      "artifacts_rendered_total",
			Help:      "Report artifacts rendered.",
		}),
		ArtifactsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dst_rdd",
			Name:      "artifacts_uploaded_total",
			Help:      "Report artifacts uploaded to the artifact store.",
		}),
	}
}
