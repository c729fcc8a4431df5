package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stayops"

// Metrics holds every collector the service exports.
type Metrics struct {
	SweepRuns     *prometheus.CounterVec
	SweepItems    *prometheus.CounterVec
	SweepFailures *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
	Notifications *prometheus.CounterVec

	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates collectors and registers them on reg. A nil reg uses a fresh
// private registry so tests never collide on the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep invocations by outcome",
		}, []string{"sweep", "outcome"}),
		SweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Records changed by sweeps (missions generated, incidents escalated, reminders sent)",
		}, []string{"sweep"}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Per-record failures recovered inside sweeps",
		}, []string{"sweep"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.SweepRuns, m.SweepItems, m.SweepFailures, m.SweepDuration, m.Notifications,
		m.RequestCounter, m.RequestDuration,
	)
	return m
}

// ObserveSweep records one invocation.
func (m *Metrics) ObserveSweep(sweep string, started time.Time, items, failures int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.SweepRuns.WithLabelValues(sweep, outcome).Inc()
	m.SweepItems.WithLabelValues(sweep).Add(float64(items))
	m.SweepFailures.WithLabelValues(sweep).Add(float64(failures))
	m.SweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

// ObserveNotification records one delivery attempt on channel.
func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(channel, outcome).Inc()
}

// unmatchedRoute labels requests no route pattern matched.
const unmatchedRoute = "unmatched"

// Middleware records request counts and durations labelled by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := unmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.RequestCounter.WithLabelValues(r.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
