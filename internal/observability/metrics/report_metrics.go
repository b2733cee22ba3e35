package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels the exported series.
type Config struct {
	ServiceName string
	Environment string
}

// ReportMetrics captures aggregate mutations, alert and dispatch outcomes.
type ReportMetrics struct {
	mutations        *prometheus.CounterVec
	mutationErrors   *prometheus.CounterVec
	missingDocuments *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

var (
	reportMetricsOnce sync.Once
	reportMetrics     *ReportMetrics
)

// Report returns the process-wide report metrics registered on the default registerer.
func Report() *ReportMetrics {
	return ReportWithConfig(Config{})
}

// ReportWithConfig returns the singleton using config labels on first use.
func ReportWithConfig(cfg Config) *ReportMetrics {
	reportMetricsOnce.Do(func() {
		reportMetrics = NewReportMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reportMetrics
}

// ResetReportMetricsForTest resets the singleton for tests.
func ResetReportMetricsForTest() {
	reportMetricsOnce = sync.Once{}
	reportMetrics = nil
}

// NewReportMetrics builds and registers the collectors on registerer.
func NewReportMetrics(registerer prometheus.Registerer, cfg Config) *ReportMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "cardreport"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ReportMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardreport_aggregate_mutations_total",
			Help:        "Persisted aggregate mutations by granularity and operation.",
			ConstLabels: constLabels,
		}, []string{"granularity", "op"}),
		mutationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardreport_aggregate_mutation_errors_total",
			Help:        "Aggregate mutations that failed against the document store.",
			ConstLabels: constLabels,
		}, []string{"granularity", "op"}),
		missingDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardreport_aggregate_missing_total",
			Help:        "Delta operations skipped because the aggregate did not exist.",
			ConstLabels: constLabels,
		}, []string{"granularity", "op"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardreport_alerts_total",
			Help:        "Threshold alert notifications by level and outcome.",
			ConstLabels: constLabels,
		}, []string{"granularity", "level", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cardreport_dispatch_steps_total",
			Help:        "Scheduled dispatch steps by outcome.",
			ConstLabels: constLabels,
		}, []string{"step", "outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "cardreport_dispatch_duration_seconds",
			Help:        "Duration of one scheduled dispatch run.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.mutations,
		m.mutationErrors,
		m.missingDocuments,
		m.alerts,
		m.dispatches,
		m.dispatchDuration,
	)
	return m
}

func (m *ReportMetrics) IncMutation(granularity, op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(granularity, op).Inc()
}

func (m *ReportMetrics) IncMutationError(granularity, op string) {
	if m == nil {
		return
	}
	m.mutationErrors.WithLabelValues(granularity, op).Inc()
}

func (m *ReportMetrics) IncMissing(granularity, op string) {
	if m == nil {
		return
	}
	m.missingDocuments.WithLabelValues(granularity, op).Inc()
}

func (m *ReportMetrics) IncAlert(granularity, level, outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(granularity, level, outcome).Inc()
}

func (m *ReportMetrics) IncDispatch(step, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(step, outcome).Inc()
}

func (m *ReportMetrics) ObserveDispatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}
