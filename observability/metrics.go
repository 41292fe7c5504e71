package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SiloMetricsRegistry records planning and redemption activity for the silo
// engine's RPC surface.
type SiloMetricsRegistry struct {
	plansBuilt      *prometheus.CounterVec
	planShortfalls  prometheus.Counter
	planLatency     prometheus.Histogram
	executions      *prometheus.CounterVec
	deliveredBDV    prometheus.Counter
	stalePlanAborts prometheus.Counter
	slippageAborts  prometheus.Counter
}

var (
	siloMetricsOnce sync.Once
	siloRegistry    *SiloMetricsRegistry
)

// SiloMetrics returns the lazily-initialised silo metrics registry.
func SiloMetrics() *SiloMetricsRegistry {
	siloMetricsOnce.Do(func() {
		siloRegistry = &SiloMetricsRegistry{
			plansBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "plans_built_total",
				Help:      "Withdrawal plans computed, segmented by outcome.",
			}, []string{"outcome"}),
			planShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "plan_shortfalls_total",
				Help:      "Plans whose available value fell short of the requested target.",
			}),
			planLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "plan_duration_seconds",
				Help:      "Latency distribution for plan computation.",
				Buckets:   prometheus.DefBuckets,
			}),
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "executions_total",
				Help:      "Plan executions, segmented by outcome.",
			}, []string{"outcome"}),
			deliveredBDV: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "delivered_bdv_total",
				Help:      "Total bean-denominated value delivered by executed plans.",
			}),
			stalePlanAborts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "stale_plan_aborts_total",
				Help:      "Executions aborted because a referenced lot shrank after planning.",
			}),
			slippageAborts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pinto",
				Subsystem: "silo",
				Name:      "slippage_aborts_total",
				Help:      "Executions aborted by the slippage tolerance.",
			}),
		}
		prometheus.MustRegister(
			siloRegistry.plansBuilt,
			siloRegistry.planShortfalls,
			siloRegistry.planLatency,
			siloRegistry.executions,
			siloRegistry.deliveredBDV,
			siloRegistry.stalePlanAborts,
			siloRegistry.slippageAborts,
		)
	})
	return siloRegistry
}

// ObservePlan records one plan computation.
func (m *SiloMetricsRegistry) ObservePlan(outcome string, shortfall bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.plansBuilt.WithLabelValues(normaliseOutcome(outcome)).Inc()
	if shortfall {
		m.planShortfalls.Inc()
	}
	m.planLatency.Observe(elapsed.Seconds())
}

// ObserveExecution records one plan execution attempt. deliveredBDV is the
// delivered value in base units for successful runs, ignored otherwise.
func (m *SiloMetricsRegistry) ObserveExecution(outcome string, deliveredBDV float64) {
	if m == nil {
		return
	}
	outcome = normaliseOutcome(outcome)
	m.executions.WithLabelValues(outcome).Inc()
	switch outcome {
	case "ok":
		if deliveredBDV > 0 {
			m.deliveredBDV.Add(deliveredBDV)
		}
	case "stale_plan":
		m.stalePlanAborts.Inc()
	case "slippage":
		m.slippageAborts.Inc()
	}
}

func normaliseOutcome(outcome string) string {
	outcome = strings.TrimSpace(strings.ToLower(outcome))
	if outcome == "" {
		return "unknown"
	}
	return outcome
}
