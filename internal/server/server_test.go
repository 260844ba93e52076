package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentindosimont/usagedash/internal/metrics"
	"github.com/valentindosimont/usagedash/internal/usage"
)

func testSnapshot() usage.Snapshot {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	pct := 64.0
	return usage.Snapshot{
		GeneratedAt: now,
		Providers: []usage.StatusRecord{{
			Provider:      usage.ProviderClaude,
			Status:        usage.HealthPartial,
			Source:        usage.SourceManual,
			WeeklyUsedPct: &pct,
			LastUpdatedAt: now,
			Messages:      []string{"missing reset timestamps; populated usage only"},
		}},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rr
}

func TestSnapshotNotReady(t *testing.T) {
	s := New(&Latest{}, nil, nil)

	rr := get(t, s.Handler(), "/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Code)

	rr = get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"starting"`)
}

func TestSnapshotServed(t *testing.T) {
	latest := &Latest{}
	latest.Set(testSnapshot())
	s := New(latest, nil, nil)

	rr := get(t, s.Handler(), "/snapshot")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var snap usage.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, testSnapshot(), snap)
}

func TestProviderRecord(t *testing.T) {
	latest := &Latest{}
	latest.Set(testSnapshot())
	h := New(latest, nil, nil).Handler()

	rr := get(t, h, "/snapshot/claude")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"weekly_limit_percent_used":64`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/snapshot/codex").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/snapshot/copilot").Code)
}

func TestHealthzDegradedAfterError(t *testing.T) {
	latest := &Latest{}
	latest.Set(testSnapshot())
	latest.SetError(errors.New("claude: permission denied"), time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC))

	rr := get(t, New(latest, nil, nil).Handler(), "/healthz")

	var body healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "claude: permission denied", body.LastError)
	require.NotNil(t, body.LastCollectedAt)

	latest.Set(testSnapshot())
	rr = get(t, New(latest, nil, nil).Handler(), "/healthz")
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestMetricsRoute(t *testing.T) {
	exp := metrics.NewExporter()
	latest := &Latest{}
	snap := testSnapshot()
	latest.Set(snap)
	exp.Observe(snap)

	h := New(latest, exp, nil).Handler()
	get(t, h, "/snapshot")

	rr := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `usagedash_weekly_used_percent{provider="claude"} 64`))
	assert.True(t, strings.Contains(body, `usagedash_http_requests_total{method="GET",path="/snapshot",status="200"} 1`))
}

func TestMetricsDisabledWithoutExporter(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(t, New(&Latest{}, nil, nil).Handler(), "/metrics").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := New(&Latest{}, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/snapshot", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&Latest{}, nil, nil).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
