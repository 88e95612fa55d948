package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the cycler.
type PrometheusMetrics struct {
	OperationsTotal *prometheus.CounterVec
	CyclesTotal     *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec

	ConfirmLatency *prometheus.HistogramVec

	WalletBalanceUSD *prometheus.GaugeVec
	RunStatus        *prometheus.GaugeVec
	Iteration        prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrapcycler_operations_total",
				Help: "Wrap and unwrap operations by outcome",
			},
			[]string{"kind", "status"},
		),

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrapcycler_cycles_total",
				Help: "Wallet cycles by status",
			},
			[]string{"status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrapcycler_errors_total",
				Help: "Errors by category",
			},
			[]string{"category"},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrapcycler_confirmation_latency_seconds",
				Help:    "Submit to receipt latency in seconds",
				Buckets: []float64{1, 2, 4, 8, 12, 20, 30, 60, 120},
			},
			[]string{"kind"},
		),

		WalletBalanceUSD: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wrapcycler_wallet_balance_usd",
				Help: "Combined native and wrapped balance in USD",
			},
			[]string{"wallet", "phase"},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wrapcycler_run_status",
				Help: "Current run status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),

		Iteration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrapcycler_iteration",
				Help: "Iteration currently in progress",
			},
		),
	}
}

// RecordOperation records a finished operation.
func (m *PrometheusMetrics) RecordOperation(kind types.OperationKind, status types.OutcomeStatus) {
	m.OperationsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

// RecordConfirmLatency records submit-to-receipt latency.
func (m *PrometheusMetrics) RecordConfirmLatency(kind types.OperationKind, latencySeconds float64) {
	m.ConfirmLatency.WithLabelValues(string(kind)).Observe(latencySeconds)
}

// RecordCycle records a finished wallet cycle.
func (m *PrometheusMetrics) RecordCycle(status types.CycleStatus) {
	m.CyclesTotal.WithLabelValues(string(status)).Inc()
}

// RecordError records an error.
func (m *PrometheusMetrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// SetWalletBalance sets the USD valuation of a wallet for a report phase.
func (m *PrometheusMetrics) SetWalletBalance(wallet, phase string, usd float64) {
	m.WalletBalanceUSD.WithLabelValues(wallet, phase).Set(usd)
}

// SetIteration updates the iteration gauge.
func (m *PrometheusMetrics) SetIteration(i int) {
	m.Iteration.Set(float64(i))
}

// SetRunStatus updates the run status gauges.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range []types.RunStatus{
		types.StatusIdle, types.StatusRunning, types.StatusCompleted,
		types.StatusCancelled, types.StatusError,
	} {
		if s == status {
			m.RunStatus.WithLabelValues(string(s)).Set(1)
		} else {
			m.RunStatus.WithLabelValues(string(s)).Set(0)
		}
	}
}

// Reset resets counters and gauges. Histograms are cumulative and keep their
// buckets across runs.
func (m *PrometheusMetrics) Reset() {
	m.OperationsTotal.Reset()
	m.CyclesTotal.Reset()
	m.ErrorsTotal.Reset()
	m.WalletBalanceUSD.Reset()
	m.Iteration.Set(0)
	m.SetRunStatus(types.StatusIdle)
}
