package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modsync"

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Metrics collects counters of sync, publish and copy runs. A nil *Metrics is valid and records nothing.
type Metrics struct {
	modulesRetrieved *prometheus.CounterVec
	modulesFailed    *prometheus.CounterVec
	modulesRemoved   *prometheus.CounterVec
	unitsPublished   *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	lastSuccess      *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		modulesRetrieved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modules_retrieved_total",
			Help:      "Modules retrieved and imported by sync",
		}, []string{"repo"}),

		modulesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modules_failed_total",
			Help:      "Modules that could not be retrieved or imported",
		}, []string{"repo"}),

		modulesRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modules_removed_total",
			Help:      "Units removed because the feed no longer lists them",
		}, []string{"repo"}),

		unitsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_published_total",
			Help:      "Units copied into a hosting location",
		}, []string{"repo"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by kind and result",
		}, []string{"repo", "kind", "result"}),

		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"kind"}),

		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}, []string{"repo", "kind"}),
	}
}

func (m *Metrics) ModuleRetrieved(repo string) {
	if m == nil {
		return
	}

	m.modulesRetrieved.WithLabelValues(repo).Inc()
}

func (m *Metrics) ModuleFailed(repo string) {
	if m == nil {
		return
	}

	m.modulesFailed.WithLabelValues(repo).Inc()
}

func (m *Metrics) ModulesRemoved(repo string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.modulesRemoved.WithLabelValues(repo).Add(float64(n))
}

func (m *Metrics) UnitsPublished(repo string, n int) {
	if m == nil {
		return
	}

	m.unitsPublished.WithLabelValues(repo).Add(float64(n))
}

// RunFinished records one finished run of kind started at start.
func (m *Metrics) RunFinished(repo, kind string, start time.Time, err error) {
	if m == nil {
		return
	}

	result := ResultSuccess
	if err != nil {
		result = ResultFailed
	}

	m.runs.WithLabelValues(repo, kind, result).Inc()
	m.runDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err == nil {
		m.lastSuccess.WithLabelValues(repo, kind).SetToCurrentTime()
	}
}
