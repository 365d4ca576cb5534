package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "settlement"

// Commit outcomes.
const (
	OutcomeCommitted         = "committed"
	OutcomeReplayed          = "replayed"
	OutcomeRejected          = "rejected"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeExhausted         = "exhausted"
	OutcomeInconsistent      = "inconsistent"
	OutcomeFailed            = "failed"
)

// SettlementMetrics tracks order commits and store contention.
type SettlementMetrics struct {
	commits   *prometheus.CounterVec
	attempts  prometheus.Histogram
	duration  *prometheus.HistogramVec
	storeBusy prometheus.Counter
	lowStock  *prometheus.GaugeVec
	lifecycle *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement collectors. A nil registerer
// yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_commits_total",
			Help:      "Order commit calls by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_commit_attempts",
			Help:      "Attempts needed per order commit call.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_commit_duration_seconds",
			Help:      "Wall time of order commit calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		storeBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_busy_retries_total",
			Help:      "Transaction acquisitions retried because the store was busy.",
		}),
		lowStock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_low_stock",
			Help:      "1 when a product is at or below its minimum threshold.",
		}, []string{"product_id"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions after commit.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.commits, m.attempts, m.duration, m.storeBusy, m.lowStock, m.lifecycle)
	return m
}

// ObserveCommit records the outcome of one commit call.
func (m *SettlementMetrics) ObserveCommit(outcome string, attempts int, elapsed time.Duration) {
	if m == nil || m.commits == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.commits.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
}

// IncStoreBusy counts one retried store acquisition.
func (m *SettlementMetrics) IncStoreBusy() {
	if m == nil || m.storeBusy == nil {
		return
	}
	m.storeBusy.Inc()
}

// SetLowStock flags or clears the low stock gauge of a product.
func (m *SettlementMetrics) SetLowStock(productID string, low bool) {
	if m == nil || m.lowStock == nil {
		return
	}
	value := 0.0
	if low {
		value = 1
	}
	m.lowStock.WithLabelValues(normalizeLabel(productID)).Set(value)
}

// IncTransition counts an order moving into status.
func (m *SettlementMetrics) IncTransition(status string) {
	if m == nil || m.lifecycle == nil {
		return
	}
	m.lifecycle.WithLabelValues(normalizeLabel(status)).Inc()
}
