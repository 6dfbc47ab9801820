// Package metrics exposes Prometheus collectors for the automation engine,
// the optimizer, the device gateway and the HTTP API.
//
// Metrics implements automation.MetricsRecorder, optimizer.MetricsRecorder
// and gateway.MetricsRecorder. All methods are safe on a nil *Metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "irrigation"

// Breaker state gauge values.
const (
	breakerClosed   = 0
	breakerHalfOpen = 1
	breakerOpen     = 2
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	waterDelivered    *prometheus.CounterVec
	automationErrors  *prometheus.CounterVec
	autoDisabled      *prometheus.CounterVec
	activeAutomations prometheus.Gauge

	optimizations  *prometheus.CounterVec
	fallbacks      prometheus.Counter
	optimizerScore *prometheus.HistogramVec

	gatewayCommands *prometheus.CounterVec
	breakerState    prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Irrigation executions by automation mode and outcome.",
		}, []string{"mode", "outcome"}),
		waterDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "water_delivered_total",
			Help:      "Water delivered by successful executions, by automation mode.",
		}, []string{"mode"}),
		automationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_errors_total",
			Help:      "Automation loop iterations that failed, by mode.",
		}, []string{"mode"}),
		autoDisabled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automations_disabled_total",
			Help:      "Automations disabled after repeated errors, by mode.",
		}, []string{"mode"}),
		activeAutomations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_automations",
			Help:      "Automations currently running.",
		}),
		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizations_total",
			Help:      "Schedule optimizations by requested algorithm.",
		}, []string{"algorithm"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimization_fallbacks_total",
			Help:      "Optimizations that returned the fallback schedule.",
		}),
		optimizerScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_score",
			Help:      "Overall evaluator score of optimized schedules.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"algorithm"}),
		gatewayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_commands_total",
			Help:      "Device commands by outcome.",
		}, []string{"outcome"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_state",
			Help:      "Device gateway circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executions,
		m.waterDelivered,
		m.automationErrors,
		m.autoDisabled,
		m.activeAutomations,
		m.optimizations,
		m.fallbacks,
		m.optimizerScore,
		m.gatewayCommands,
		m.breakerState,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ─── Automation ─────────────────────────────────────────────────────────────

// IrrigationExecuted counts one execution and the water it delivered.
func (m *Metrics) IrrigationExecuted(mode, outcome string, amount float64) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(mode, outcome).Inc()
	if amount > 0 {
		m.waterDelivered.WithLabelValues(mode).Add(amount)
	}
}

// AutomationError counts a failed loop iteration.
func (m *Metrics) AutomationError(mode string) {
	if m == nil {
		return
	}
	m.automationErrors.WithLabelValues(mode).Inc()
}

// AutomationDisabled counts an automatic disable.
func (m *Metrics) AutomationDisabled(mode string) {
	if m == nil {
		return
	}
	m.autoDisabled.WithLabelValues(mode).Inc()
}

// ActiveAutomations sets the running automation gauge.
func (m *Metrics) ActiveAutomations(n int) {
	if m == nil {
		return
	}
	m.activeAutomations.Set(float64(n))
}

// ─── Optimizer ──────────────────────────────────────────────────────────────

// OptimizationCompleted counts an optimization and observes its score.
// Fallback scores are not observed.
func (m *Metrics) OptimizationCompleted(algorithm string, overallScore float64, fallback bool) {
	if m == nil {
		return
	}
	m.optimizations.WithLabelValues(algorithm).Inc()
	if fallback {
		m.fallbacks.Inc()
		return
	}
	m.optimizerScore.WithLabelValues(algorithm).Observe(overallScore)
}

// ─── Gateway ────────────────────────────────────────────────────────────────

// CommandSent counts a device command by outcome.
func (m *Metrics) CommandSent(outcome string) {
	if m == nil {
		return
	}
	m.gatewayCommands.WithLabelValues(outcome).Inc()
}

// BreakerState records the breaker state by name ("closed", "half-open",
// "open").
func (m *Metrics) BreakerState(state string) {
	if m == nil {
		return
	}
	switch state {
	case "open":
		m.breakerState.Set(breakerOpen)
	case "half-open":
		m.breakerState.Set(breakerHalfOpen)
	default:
		m.breakerState.Set(breakerClosed)
	}
}

// ─── HTTP ───────────────────────────────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack passes connection takeover through for WebSocket upgrades.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	if s.status == http.StatusOK {
		s.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// Middleware records request counts and durations labelled by the chi
// route pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
