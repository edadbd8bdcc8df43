package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subledger",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "subledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
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

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks ledger operations and the balances they move.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	custody    prometheus.Gauge
	fees       prometheus.Gauge
	pool       prometheus.Gauge
	points     prometheus.Gauge
	records    prometheus.Gauge
	paused     prometheus.Gauge
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		gauge := func(name, help string) prometheus.Gauge {
			return prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "subledger",
				Subsystem: "ledger",
				Name:      name,
				Help:      help,
			})
		}
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "subledger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome class.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "subledger",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			custody: gauge("custody_balance", "Value held by the ledger (total in minus total out)."),
			fees:    gauge("fee_balance", "Accrued fee balance owed to the fee recipient."),
			pool:    gauge("reward_pool_balance", "Value reserved for reward point holders."),
			points:  gauge("outstanding_points", "Reward points held across all accounts."),
			records: gauge("issued_records", "Subscription records minted so far."),
			paused:  gauge("paused", "Whether purchases are paused (1) or open (0)."),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.custody,
			ledgerRegistry.fees,
			ledgerRegistry.pool,
			ledgerRegistry.points,
			ledgerRegistry.records,
			ledgerRegistry.paused,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records one ledger call. Outcome is "ok" or the error
// class reported by the engine.
func (m *LedgerMetrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// LedgerSnapshot is the subset of ledger totals exported as gauges.
type LedgerSnapshot struct {
	Custody       *big.Int
	FeeBalance    *big.Int
	RewardPool    *big.Int
	TotalPoints   *big.Int
	IssuedRecords uint64
	Paused        bool
}

// RecordBalances refreshes the balance gauges.
func (m *LedgerMetrics) RecordBalances(s LedgerSnapshot) {
	if m == nil {
		return
	}
	m.custody.Set(bigToFloat(s.Custody))
	m.fees.Set(bigToFloat(s.FeeBalance))
	m.pool.Set(bigToFloat(s.RewardPool))
	m.points.Set(bigToFloat(s.TotalPoints))
	m.records.Set(float64(s.IssuedRecords))
	if s.Paused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
