// Package metrics exposes collected usage as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valentindosimont/usagedash/internal/usage"
)

const namespace = "usagedash"

var healthStates = []usage.Health{usage.HealthOK, usage.HealthPartial, usage.HealthError}

// Exporter owns a registry with gauges mirroring the latest snapshot
type Exporter struct {
	registry *prometheus.Registry

	sessionUsed   *prometheus.GaugeVec
	weeklyUsed    *prometheus.GaugeVec
	sessionReset  *prometheus.GaugeVec
	weeklyReset   *prometheus.GaugeVec
	health        *prometheus.GaugeVec
	lastCollected prometheus.Gauge
	cycles        *prometheus.CounterVec

	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// NewExporter creates an exporter with its own registry
func NewExporter() *Exporter {
	byProvider := []string{"provider"}

	e := &Exporter{
		registry: prometheus.NewRegistry(),
		sessionUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_used_percent",
			Help:      "Percent of the rolling session quota used",
		}, byProvider),
		weeklyUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weekly_used_percent",
			Help:      "Percent of the weekly quota used",
		}, byProvider),
		sessionReset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_reset_timestamp_seconds",
			Help:      "Unix time the session quota resets",
		}, byProvider),
		weeklyReset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weekly_reset_timestamp_seconds",
			Help:      "Unix time the weekly quota resets",
		}, byProvider),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health",
			Help:      "1 for the provider's current health status, 0 otherwise",
		}, []string{"provider", "status"}),
		lastCollected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_collect_timestamp_seconds",
			Help:      "Unix time of the last successful collection",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collect_cycles_total",
			Help:      "Collection cycles by result",
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "path", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
	}

	e.registry.MustRegister(
		e.sessionUsed, e.weeklyUsed, e.sessionReset, e.weeklyReset,
		e.health, e.lastCollected, e.cycles,
		e.httpDuration, e.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// Registry exposes the underlying registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Observe replaces the per-provider gauges with the values in snap.
// Providers missing from snap, and absent fields, are removed.
func (e *Exporter) Observe(snap usage.Snapshot) {
	e.cycles.WithLabelValues("ok").Inc()
	e.lastCollected.Set(float64(snap.GeneratedAt.Unix()))

	seen := make(map[usage.Provider]bool, len(snap.Providers))
	for _, rec := range snap.Providers {
		seen[rec.Provider] = true
		p := string(rec.Provider)

		setOrDelete(e.sessionUsed, p, rec.SessionUsedPct)
		setOrDelete(e.weeklyUsed, p, rec.WeeklyUsedPct)
		setOrDelete(e.sessionReset, p, unixSeconds(rec.SessionResetsAt))
		setOrDelete(e.weeklyReset, p, unixSeconds(rec.WeeklyResetsAt))

		for _, h := range healthStates {
			v := 0.0
			if h == rec.Status {
				v = 1
			}
			e.health.WithLabelValues(p, string(h)).Set(v)
		}
	}

	for _, prov := range usage.Providers {
		if seen[prov] {
			continue
		}
		p := string(prov)
		e.sessionUsed.DeleteLabelValues(p)
		e.weeklyUsed.DeleteLabelValues(p)
		e.sessionReset.DeleteLabelValues(p)
		e.weeklyReset.DeleteLabelValues(p)
		for _, h := range healthStates {
			e.health.DeleteLabelValues(p, string(h))
		}
	}
}

// ObserveError counts a failed collection cycle
func (e *Exporter) ObserveError() {
	e.cycles.WithLabelValues("error").Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Middleware records HTTP request duration and count by chi route pattern
func (e *Exporter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			code := ww.Status()
			if code == 0 {
				// nothing written; net/http sends 200
				code = http.StatusOK
			}
			status := strconv.Itoa(code)

			e.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			e.httpRequests.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

func setOrDelete(g *prometheus.GaugeVec, provider string, v *float64) {
	if v == nil {
		g.DeleteLabelValues(provider)
		return
	}
	g.WithLabelValues(provider).Set(*v)
}

func unixSeconds(t *time.Time) *float64 {
	if t == nil {
		return nil
	}
	v := float64(t.Unix())
	return &v
}
