package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type poolMetrics struct {
	poolsCreated prometheus.Counter
	deposits     *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	liquidations prometheus.Counter
	pauseEngaged prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	poolMetricsOnce sync.Once
	poolRegistry    *poolMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pledge",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pledge",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pledge",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// PoolMetrics returns the registry tracking pool lifecycle activity.
func PoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &poolMetrics{
			poolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pledge",
				Subsystem: "pool",
				Name:      "created_total",
				Help:      "Count of lending pools created.",
			}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pledge",
				Subsystem: "pool",
				Name:      "deposits_total",
				Help:      "Count of accepted deposits segmented by side.",
			}, []string{"side"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pledge",
				Subsystem: "pool",
				Name:      "settlements_total",
				Help:      "Count of pool settlements segmented by resulting state.",
			}, []string{"state"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pledge",
				Subsystem: "pool",
				Name:      "liquidations_total",
				Help:      "Count of pools resolved through liquidation.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pledge",
				Subsystem: "pool",
				Name:      "pause_engaged",
				Help:      "Indicates whether the global pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.poolsCreated,
			poolRegistry.deposits,
			poolRegistry.settlements,
			poolRegistry.liquidations,
			poolRegistry.pauseEngaged,
		)
	})
	return poolRegistry
}

// RecordPoolCreated increments the pool creation counter.
func (m *poolMetrics) RecordPoolCreated() {
	if m == nil {
		return
	}
	m.poolsCreated.Inc()
}

// RecordDeposit increments the deposit counter for a side, either "lend" or
// "borrow".
func (m *poolMetrics) RecordDeposit(side string) {
	if m == nil {
		return
	}
	if side == "" {
		side = "unknown"
	}
	m.deposits.WithLabelValues(side).Inc()
}

// RecordSettlement increments the settlement counter for the state a pool
// settled into.
func (m *poolMetrics) RecordSettlement(state string) {
	if m == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	m.settlements.WithLabelValues(state).Inc()
}

// RecordLiquidation increments the liquidation counter.
func (m *poolMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *poolMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}
