package retry

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatisticsRepository is a StatisticsRepository that
// publishes the same five per-label counters as Prometheus metrics,
// for deployments that already scrape a process's /metrics endpoint
// rather than polling FindStatistics in-process.
type PrometheusStatisticsRepository struct {
	started  *prometheus.CounterVec
	complete *prometheus.CounterVec
	errorC   *prometheus.CounterVec
	abort    *prometheus.CounterVec
	recovery *prometheus.CounterVec
}

// NewPrometheusStatisticsRepository builds a PrometheusStatisticsRepository
// and registers its collectors with reg. Passing a dedicated
// *prometheus.Registry (rather than the global default) is
// recommended for libraries embedded in a larger process.
func NewPrometheusStatisticsRepository(reg prometheus.Registerer, namespace string) *PrometheusStatisticsRepository {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      name,
			Help:      help,
		}, []string{"label"})
	}

	r := &PrometheusStatisticsRepository{
		started:  counter("started_total", "Attempts started, per retry label."),
		complete: counter("complete_total", "Executions that completed without recovery or exhaustion, per retry label."),
		errorC:   counter("error_total", "Attempt failures, per retry label."),
		abort:    counter("abort_total", "Executions that exhausted retries with no recovery, per retry label."),
		recovery: counter("recovery_total", "Executions that ended via a recovery callback, per retry label."),
	}

	for _, c := range []*prometheus.CounterVec{r.started, r.complete, r.errorC, r.abort, r.recovery} {
		reg.MustRegister(c)
	}
	return r
}

func (r *PrometheusStatisticsRepository) RegisterStarted(label string)  { r.started.WithLabelValues(label).Inc() }
func (r *PrometheusStatisticsRepository) RegisterComplete(label string) { r.complete.WithLabelValues(label).Inc() }
func (r *PrometheusStatisticsRepository) RegisterError(label string)    { r.errorC.WithLabelValues(label).Inc() }
func (r *PrometheusStatisticsRepository) RegisterAbort(label string)    { r.abort.WithLabelValues(label).Inc() }
func (r *PrometheusStatisticsRepository) RegisterRecovery(label string) { r.recovery.WithLabelValues(label).Inc() }

// FindStatistics reads the current counter values back via the
// Prometheus client's own metric dto, for parity with
// DefaultStatisticsRepository's in-process query surface.
func (r *PrometheusStatisticsRepository) FindStatistics(label string) RetryStatistics {
	return RetryStatistics{
		Label:         label,
		StartCount:    int64(readCounter(r.started, label)),
		CompleteCount: int64(readCounter(r.complete, label)),
		ErrorCount:    int64(readCounter(r.errorC, label)),
		AbortCount:    int64(readCounter(r.abort, label)),
		RecoveryCount: int64(readCounter(r.recovery, label)),
	}
}

func readCounter(vec *prometheus.CounterVec, label string) float64 {
	c := vec.WithLabelValues(label)
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
