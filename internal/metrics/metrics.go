// Package metrics exposes Prometheus collectors for HTTP traffic, event
// ingestion and the alert lifecycle.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threatwatch/threatwatch/internal/audit"
)

const namespace = "threatwatch"

// Metrics owns a private registry so tests can create as many as they like
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	eventsIngested     *prometheus.CounterVec
	alertsCreated      *prometheus.CounterVec
	alertStatusChanges *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Security events stored, by severity.",
		}, []string{"severity"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts generated, by severity of the originating event.",
		}, []string{"severity"}),
		alertStatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_status_changes_total",
			Help:      "Alert status updates by previous and new status.",
		}, []string{"from", "to"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter, by caller class.",
		}, []string{"scope"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.eventsIngested,
		m.alertsCreated,
		m.alertStatusChanges,
		m.rateLimited,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEventIngested counts a stored event
func (m *Metrics) ObserveEventIngested(severity string) {
	m.eventsIngested.WithLabelValues(severity).Inc()
}

// ObserveRateLimited counts a rejected request
func (m *Metrics) ObserveRateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

// Name implements audit.Sink
func (m *Metrics) Name() string { return "metrics" }

// Record implements audit.Sink
func (m *Metrics) Record(_ context.Context, rec audit.Record) error {
	switch rec.Action {
	case audit.ActionAlertCreated:
		m.alertsCreated.WithLabelValues(rec.Severity).Inc()
	case audit.ActionAlertStatusChanged:
		m.alertStatusChanges.WithLabelValues(rec.FromStatus, rec.ToStatus).Inc()
	}
	return nil
}

// Middleware records request count and latency
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := RouteLabel(r.URL.Path)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RouteLabel collapses identifier segments so label cardinality stays bounded
func RouteLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 2 && segments[0] == "api" && segments[1] == "accounts" && len(segments) >= 3 && segments[2] != "analysts" {
		segments[2] = "{username}"
	}
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}
