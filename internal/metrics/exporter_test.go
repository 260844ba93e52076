package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentindosimont/usagedash/internal/usage"
)

func snapshotWith(recs ...usage.StatusRecord) usage.Snapshot {
	return usage.Snapshot{GeneratedAt: time.Unix(1_700_000_000, 0).UTC(), Providers: recs}
}

func TestObserve(t *testing.T) {
	e := NewExporter()
	session := 35.0
	weekly := 12.5
	reset := time.Unix(1_700_003_600, 0).UTC()

	e.Observe(snapshotWith(
		usage.StatusRecord{Provider: usage.ProviderCodex, Status: usage.HealthOK, SessionUsedPct: &session, SessionResetsAt: &reset},
		usage.StatusRecord{Provider: usage.ProviderClaude, Status: usage.HealthPartial, WeeklyUsedPct: &weekly},
	))

	assert.Equal(t, 35.0, testutil.ToFloat64(e.sessionUsed.WithLabelValues("codex")))
	assert.Equal(t, 12.5, testutil.ToFloat64(e.weeklyUsed.WithLabelValues("claude")))
	assert.Equal(t, 1_700_003_600.0, testutil.ToFloat64(e.sessionReset.WithLabelValues("codex")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.health.WithLabelValues("codex", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.health.WithLabelValues("codex", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.health.WithLabelValues("claude", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.cycles.WithLabelValues("ok")))
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(e.lastCollected))

	// codex session series exists, claude's does not
	assert.Equal(t, 1, testutil.CollectAndCount(e.sessionUsed))
}

func TestObserveDropsStaleSeries(t *testing.T) {
	e := NewExporter()
	v := 50.0

	e.Observe(snapshotWith(usage.StatusRecord{Provider: usage.ProviderGemini, Status: usage.HealthPartial, SessionUsedPct: &v}))
	require.Equal(t, 1, testutil.CollectAndCount(e.sessionUsed))
	require.Equal(t, 3, testutil.CollectAndCount(e.health))

	e.Observe(snapshotWith())
	assert.Equal(t, 0, testutil.CollectAndCount(e.sessionUsed))
	assert.Equal(t, 0, testutil.CollectAndCount(e.health))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.cycles.WithLabelValues("ok")))
}

func TestObserveError(t *testing.T) {
	e := NewExporter()
	e.ObserveError()
	e.ObserveError()
	assert.Equal(t, 2.0, testutil.ToFloat64(e.cycles.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	e := NewExporter()
	v := 10.0
	e.Observe(snapshotWith(usage.StatusRecord{Provider: usage.ProviderCodex, Status: usage.HealthOK, WeeklyUsedPct: &v}))

	rr := httptest.NewRecorder()
	e.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `usagedash_weekly_used_percent{provider="codex"} 10`))
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	e := NewExporter()
	r := chi.NewRouter()
	r.Use(e.Middleware())
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/42", http.NoBody))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.httpRequests.WithLabelValues("GET", "/items/{id}", "404")))
}

func TestMiddlewareStatusLabels(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"body only", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok") }, "200"},
		{"nothing written", func(http.ResponseWriter, *http.Request) {}, "200"},
		{"explicit status", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExporter()
			r := chi.NewRouter()
			r.Use(e.Middleware())
			r.Get("/x", tt.handler)

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
			assert.Equal(t, 1.0, testutil.ToFloat64(e.httpRequests.WithLabelValues("GET", "/x", tt.want)))
		})
	}
}
