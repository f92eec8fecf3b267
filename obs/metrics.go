package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported by the workflow engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	conflicts     prometheus.Counter
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	slaActions    *prometheus.CounterVec
	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "disputeflow_transitions_total",
			Help: "Applied dispute status transitions.",
		}, []string{"to", "actor_type"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "disputeflow_transition_conflicts_total",
			Help: "Dispute mutations that hit a concurrent-modification conflict.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "disputeflow_sla_checks_total",
			Help: "SLA check runs by check name and outcome.",
		}, []string{"check", "outcome"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "disputeflow_sla_check_duration_seconds",
			Help:    "Duration of one SLA check for one organization.",
			Buckets: prometheus.DefBuckets,
		}, []string{"check"}),
		slaActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "disputeflow_sla_actions_total",
			Help: "Escalations applied and breach alerts raised.",
		}, []string{"check"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		registerer: reg,
		gatherer:   reg,
	}
	reg.MustRegister(
		m.transitions, m.conflicts, m.checks, m.checkDuration, m.slaActions,
		m.httpInFlight, m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) TransitionApplied(to, actorType string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, actorType).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// CheckFinished records one SLA check run for one organization.
func (m *Metrics) CheckFinished(check string, took time.Duration, actions int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.checks.WithLabelValues(check, outcome).Inc()
	m.checkDuration.WithLabelValues(check).Observe(took.Seconds())
	if actions > 0 {
		m.slaActions.WithLabelValues(check).Add(float64(actions))
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{Registry: m.registerer})
}

// Instrument measures request count, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
