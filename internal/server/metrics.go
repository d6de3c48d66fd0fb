package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	executeTotal       *prometheus.CounterVec
	depositsTotal      *prometheus.CounterVec
	dispatchTotal      *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	dlqDepth           prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	execute := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprelay_execute_total",
		Help: "Execute messages by operation and outcome",
	}, []string{"operation", "status"})

	deposits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprelay_deposits_total",
		Help: "Deposits seen by put_swap, split by retry gate outcome",
	}, []string{"outcome"})

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprelay_dispatch_total",
		Help: "Envelopes handed to the job dispatcher",
	}, []string{"status"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaprelay_retry_attempts_total",
		Help: "Retry attempts for envelope dispatch",
	}, []string{"result"})

	dlq := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swaprelay_dlq_depth",
		Help: "Number of envelopes in the DLQ",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(execute, deposits, dispatched, retries, dlq)

	return &metricsRegistry{
		registry:           r,
		executeTotal:       execute,
		depositsTotal:      deposits,
		dispatchTotal:      dispatched,
		retryAttemptsTotal: retries,
		dlqDepth:           dlq,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incExecute(operation, status string) {
	m.executeTotal.WithLabelValues(operation, status).Inc()
}

func (m *metricsRegistry) addDeposits(accepted, skipped int) {
	if accepted > 0 {
		m.depositsTotal.WithLabelValues("accepted").Add(float64(accepted))
	}
	if skipped > 0 {
		m.depositsTotal.WithLabelValues("skipped").Add(float64(skipped))
	}
}

func (m *metricsRegistry) incDispatch(status string) {
	m.dispatchTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incRetry(result string) {
	m.retryAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) setDLQDepth(depth int) {
	m.dlqDepth.Set(float64(depth))
}
