package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics holds the fiscal authorization signals. It implements the AFIP client
// observer and is shared by the ticket, lock and authorization layers.
type Metrics struct {
	registry        *prometheus.Registry
	remoteCalls     *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	authorizations  *prometheus.CounterVec
	ticketRefreshes *prometheus.CounterVec
	lockWait        *prometheus.HistogramVec
	lockFailures    *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// New registers every collector on a fresh registry, plus Go and process collectors.
func New(cfg Config) *Metrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ms_facturacion_afip"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "afip_remote_calls_total",
			Help:        "SOAP calls to WSAA and WSFEv1 by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "afip_remote_call_duration_seconds",
			Help:        "Latency of SOAP calls to AFIP.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
			ConstLabels: constLabels,
		}, []string{"operation"}),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscal_authorizations_total",
			Help:        "Authorization attempts by outcome (approved, reprocessed, rejected or error kind).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		ticketRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "afip_ticket_refreshes_total",
			Help:        "WSAA ticket exchanges by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fiscal_sequence_lock_wait_seconds",
			Help:        "Time spent waiting for a numbering sequence lock.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"backend"}),
		lockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fiscal_sequence_lock_failures_total",
			Help:        "Sequence lock acquisitions that failed or were abandoned.",
			ConstLabels: constLabels,
		}, []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "afip_circuit_breaker_state",
			Help:        "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			ConstLabels: constLabels,
		}, []string{"breaker"}),
	}

	m.registry.MustRegister(
		m.remoteCalls,
		m.remoteDuration,
		m.authorizations,
		m.ticketRefreshes,
		m.lockWait,
		m.lockFailures,
		m.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCall records one SOAP exchange.
func (m *Metrics) ObserveCall(op, outcome string, elapsed time.Duration) {
	m.remoteCalls.WithLabelValues(op, outcome).Inc()
	m.remoteDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAuthorization(outcome string) {
	m.authorizations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTicketRefresh(result string) {
	m.ticketRefreshes.WithLabelValues(result).Inc()
}

// ObserveLockWait records how long an acquisition took; failed acquisitions are also counted.
func (m *Metrics) ObserveLockWait(backend string, waited time.Duration, err error) {
	m.lockWait.WithLabelValues(backend).Observe(waited.Seconds())
	if err != nil {
		m.lockFailures.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) SetBreakerState(breaker string, state int) {
	m.breakerState.WithLabelValues(breaker).Set(float64(state))
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
