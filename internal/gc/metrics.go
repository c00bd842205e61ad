package gc

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the run counters exposed over /metrics via
// prometheus/client_golang and promhttp.HandlerFor on the registry passed to
// NewMetrics.
type Metrics struct {
	Runs            *prometheus.CounterVec
	FilesDeleted    prometheus.Counter
	VersionsDeleted prometheus.Counter
	RunDuration     prometheus.Histogram
}

// NewMetrics registers and returns the orchestrator's metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collection_gc",
			Name:      "runs_total",
			Help:      "Number of garbage collection orchestrator runs, by outcome.",
		}, []string{"outcome"}),
		FilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collection_gc",
			Name:      "files_deleted_total",
			Help:      "Total number of blob files deleted across all runs.",
		}),
		VersionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collection_gc",
			Name:      "versions_deleted_total",
			Help:      "Total number of version rows deleted across all runs.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collection_gc",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a full orchestrator run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Runs, m.FilesDeleted, m.VersionsDeleted, m.RunDuration)
	return m
}

// Observe records the outcome of one run.
func (m *Metrics) Observe(resp *Response, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(seconds)
	if resp != nil {
		m.FilesDeleted.Add(float64(resp.NumFilesDeleted))
		m.VersionsDeleted.Add(float64(resp.NumVersionsDeleted))
	}
}
