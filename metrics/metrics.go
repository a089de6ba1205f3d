// Package metrics exposes the engine's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec // label: status
	MissedCycles    prometheus.Counter
	OrdersTotal     *prometheus.CounterVec // label: disposition
	CancelsTotal    prometheus.Counter
	CommitDur       prometheus.Histogram
	CommitFailures  prometheus.Counter
	DriftAlerts     prometheus.Counter
	RiskStatus      prometheus.Gauge // 0=armed 1=tripped 2=halted
	HeartbeatAt     prometheus.Gauge
	DaysCount       prometheus.Gauge
	TotalValue      prometheus.Gauge
	registry        *prometheus.Registry
}

// New registers and returns the engine metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_cycles_total",
			Help: "Trading cycles by final status",
		}, []string{"status"}),
		MissedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tranche_missed_cycles_total",
			Help: "Trading days with no completed cycle, detected at load",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tranche_orders_total",
			Help: "Order outcomes by disposition",
		}, []string{"disposition"}),
		CancelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tranche_order_cancels_total",
			Help: "Cancellation requests issued for unresolved orders",
		}),
		CommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tranche_commit_duration_seconds",
			Help:    "Durable snapshot commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		CommitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tranche_commit_failures_total",
			Help: "Commit or commit-verification failures",
		}),
		DriftAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tranche_drift_alerts_total",
			Help: "Reconciliation passes blocked on drift beyond tolerance",
		}),
		RiskStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_risk_status",
			Help: "Risk gate state: 0=armed, 1=tripped, 2=halted",
		}),
		HeartbeatAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_heartbeat_timestamp_seconds",
			Help: "Unix time of the last liveness heartbeat",
		}),
		DaysCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_days_count",
			Help: "Completed-cycle counter from the ledger",
		}),
		TotalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tranche_total_value",
			Help: "Sum of tranche values at last revaluation",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.CyclesTotal, m.MissedCycles, m.OrdersTotal, m.CancelsTotal,
		m.CommitDur, m.CommitFailures, m.DriftAlerts, m.RiskStatus,
		m.HeartbeatAt, m.DaysCount, m.TotalValue,
	)
	return m
}

// Beat records a liveness heartbeat.
func (m *Metrics) Beat(t time.Time) {
	m.HeartbeatAt.Set(float64(t.Unix()))
}

// Handler returns the /metrics handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics listener on addr. Best effort: the returned server
// is already running and the caller may ignore it entirely.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
