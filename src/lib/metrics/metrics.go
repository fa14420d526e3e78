package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ReservationMetrics struct {
	transitions *prometheus.CounterVec
	chainCalls  *prometheus.HistogramVec
	reconciled  *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *ReservationMetrics
)

func Reservations() *ReservationMetrics {
	once.Do(func() {
		registry = &ReservationMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftdiarias_transitions_total",
				Help: "Lifecycle transitions by operation and outcome kind.",
			}, []string{"op", "outcome"}),
			chainCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "nftdiarias_chain_call_seconds",
				Help:    "Latency of contract calls by method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, []string{"method"}),
			reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftdiarias_reconciled_total",
				Help: "Mirror records moved forward by reconciliation, by target status.",
			}, []string{"to"}),
		}
		prometheus.MustRegister(registry.transitions, registry.chainCalls, registry.reconciled)
	})
	return registry
}

func (m *ReservationMetrics) ObserveTransition(op, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.transitions.WithLabelValues(op, outcome).Inc()
}

func (m *ReservationMetrics) ObserveChainCall(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.chainCalls.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *ReservationMetrics) ObserveReconciled(to string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(to).Inc()
}
