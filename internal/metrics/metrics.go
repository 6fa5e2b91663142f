// Package metrics provides Prometheus metrics for calclock.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"calclock/internal/ics"
)

// Manager owns the calclock collectors.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	fetches          *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	eventsLoaded     prometheus.Gauge
	eventsDropped    *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	lastRefreshUnix  prometheus.Gauge
	framesRendered   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpRequestDurMs *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates the collectors on their own registry so that /metrics
// does not carry the default Go runtime series unless asked.
func NewManager(opts ...Option) *Manager {
	m := &Manager{namespace: "calclock"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)

	m.fetches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "calendar_fetches_total",
		Help:      "Upstream calendar fetches by outcome",
	}, []string{"outcome"})

	m.fetchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "calendar_fetch_duration_seconds",
		Help:      "Upstream calendar fetch latency",
		Buckets:   prometheus.DefBuckets,
	})

	m.eventsLoaded = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "events_loaded",
		Help:      "Events in the current snapshot",
	})

	m.eventsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_dropped_total",
		Help:      "Event blocks skipped while parsing, by reason",
	}, []string{"reason"})

	m.refreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "refreshes_total",
		Help:      "Snapshot refreshes by result",
	}, []string{"result"})

	m.lastRefreshUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix time of the last completed refresh",
	})

	m.framesRendered = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "frames_rendered_total",
		Help:      "Clock frames rendered by output format",
	}, []string{"format"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDurMs = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route", "method"})

	return m
}

// Registry returns the registry backing this manager.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFetch matches ics.WithObserver.
func (m *Manager) ObserveFetch(outcome string, elapsed time.Duration) {
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(elapsed.Seconds())
}

// ObserveDrop matches the parser and loader drop hooks.
func (m *Manager) ObserveDrop(_ int, reason string) {
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordRefresh notes a finished refresh holding n events. Refreshes served
// from a stale cache are counted apart from clean ones.
func (m *Manager) RecordRefresh(n int, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ics.ErrStale):
		result = "stale"
	case err != nil:
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.eventsLoaded.Set(float64(n))
	m.lastRefreshUnix.SetToCurrentTime()
}

// RecordFrame counts a rendered frame.
func (m *Manager) RecordFrame(format string) {
	m.framesRendered.WithLabelValues(format).Inc()
}

// RecordHTTPRequest records one finished request.
func (m *Manager) RecordHTTPRequest(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDurMs.WithLabelValues(route, method).Observe(float64(elapsed.Microseconds()) / 1000)
}
