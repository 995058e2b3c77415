package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrchestratorMetrics tracks ledger operations issued by the lending controller.
type OrchestratorMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	waits       prometheus.Histogram
	settlements *prometheus.GaugeVec
}

var (
	orchestratorOnce     sync.Once
	orchestratorRegistry *OrchestratorMetrics
)

// Orchestrator returns the lazily-initialised metrics registry for lendingctl.
func Orchestrator() *OrchestratorMetrics {
	orchestratorOnce.Do(func() {
		orchestratorRegistry = &OrchestratorMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendingctl",
				Name:      "operation_total",
				Help:      "Ledger operations issued by the controller segmented by phase, operation and outcome.",
			}, []string{"phase", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendingctl",
				Name:      "operation_duration_seconds",
				Help:      "Time from submission to confirmation for controller operations.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120, 300},
			}, []string{"phase", "operation"}),
			waits: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lendingctl",
				Name:      "confirmation_wait_seconds",
				Help:      "Time spent blocked on a single confirmation wait.",
				Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 180},
			}),
			settlements: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendingctl",
				Name:      "settlement_total_ether",
				Help:      "Aggregate fee and overdraft totals read back before settlement.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			orchestratorRegistry.operations,
			orchestratorRegistry.latency,
			orchestratorRegistry.waits,
			orchestratorRegistry.settlements,
		)
	})
	return orchestratorRegistry
}

// Observe records the outcome of one operation. A nil err counts as success.
func (m *OrchestratorMetrics) Observe(phase, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	phase = normalizeLabel(phase)
	operation = normalizeLabel(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(phase, operation, outcome).Inc()
	m.latency.WithLabelValues(phase, operation).Observe(duration.Seconds())
}

// RecordSkip counts an operation that was deliberately not issued, such as a
// withdrawal with nothing to withdraw.
func (m *OrchestratorMetrics) RecordSkip(phase, operation string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(phase), normalizeLabel(operation), "skipped").Inc()
}

// ObserveWait records a single confirmation wait.
func (m *OrchestratorMetrics) ObserveWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.waits.Observe(duration.Seconds())
}

// RecordSettlement stores the latest read-back total for kind ("fees" or "overdraft").
func (m *OrchestratorMetrics) RecordSettlement(kind string, ether float64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(kind)).Set(ether)
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
