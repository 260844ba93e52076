package usage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStats(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats-cache.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestClaudeExtract(t *testing.T) {
	const noUsage = "could not infer usage values from .claude/stats-cache.json; use providers.claude.manual.*"

	tests := []struct {
		name        string
		body        string
		wantSession *float64
		wantWeekly  *float64
		wantNotes   func(path string) []string
	}{
		{
			name:        "both probes",
			body:        `{"limits":{"session":{"percent_used":37.5},"weekly":{"percent_used":12}}}`,
			wantSession: pct(37.5),
			wantWeekly:  pct(12),
			wantNotes:   func(string) []string { return nil },
		},
		{
			name:       "weekly only",
			body:       `{"limits":{"weekly":{"percent_used":80}}}`,
			wantWeekly: pct(80),
			wantNotes:  func(string) []string { return nil },
		},
		{
			name:      "wrong types",
			body:      `{"limits":{"session":{"percent_used":"37"},"weekly":{"percent_used":null}}}`,
			wantNotes: func(string) []string { return []string{noUsage} },
		},
		{
			name:      "no limits key",
			body:      `{"dailyActivity":[]}`,
			wantNotes: func(string) []string { return []string{noUsage} },
		},
		{
			name:      "malformed json",
			body:      `{"limits":`,
			wantNotes: func(path string) []string { return []string{"malformed " + path} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeStats(t, tt.body)
			ext := &ClaudeExtractor{StatsPath: path}

			obs, err := ext.Extract(context.Background(), ProviderSettings{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantSession, obs.SessionUsedPct)
			assert.Equal(t, tt.wantWeekly, obs.WeeklyUsedPct)
			assert.Nil(t, obs.SessionResetsAt)
			assert.Nil(t, obs.WeeklyResetsAt)
			assert.Equal(t, tt.wantNotes(path), obs.Notes)
			assert.Nil(t, obs.Details)
		})
	}
}

func TestClaudeMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats-cache.json")

	obs, err := (&ClaudeExtractor{StatsPath: path}).Extract(context.Background(), ProviderSettings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing " + path}, obs.Notes)
	assert.False(t, obs.any())
}

func TestClaudeUnreadableIsProviderError(t *testing.T) {
	_, err := (&ClaudeExtractor{StatsPath: t.TempDir()}).Extract(context.Background(), ProviderSettings{})

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ProviderClaude, perr.Provider)
	assert.Contains(t, err.Error(), "claude:")
}

func TestClaudeAttachesProjectDetails(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	projects := t.TempDir()
	writeSession(t, filepath.Join(projects, "-home-me-app", "s1.jsonl"),
		assistantLine("r1", "m1", now.Add(-time.Hour), "claude-sonnet-4", 1000, 500),
	)

	stats := writeStats(t, `{"limits":{"session":{"percent_used":5}}}`)
	ext := &ClaudeExtractor{StatsPath: stats, ProjectsPath: projects, Now: func() time.Time { return now }}

	obs, err := ext.Extract(context.Background(), ProviderSettings{})
	require.NoError(t, err)

	require.NotNil(t, obs.Details)
	assert.Equal(t, int64(1500), obs.Details.SessionTokens)
	require.NotNil(t, obs.SessionUsedPct)
	assert.Equal(t, 5.0, *obs.SessionUsedPct, "details never change the probed fields")
	assert.Nil(t, obs.WeeklyUsedPct)
}

func TestClaudeProjectNotes(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		setup       func(t *testing.T, dir string)
		wantNote    func(dir string) string
		wantDetails bool
	}{
		{
			name:     "missing directory",
			setup:    func(t *testing.T, dir string) { require.NoError(t, os.RemoveAll(dir)) },
			wantNote: func(dir string) string { return "missing " + dir },
		},
		{
			name:     "no session files",
			setup:    func(t *testing.T, dir string) {},
			wantNote: func(dir string) string { return "no Claude session files found in " + dir },
		},
		{
			name: "malformed logs only",
			setup: func(t *testing.T, dir string) {
				writeSession(t, filepath.Join(dir, "p", "s.jsonl"), `not json`, `{"type":`)
			},
			wantNote: func(string) string { return "no usage tokens found in project logs" },
		},
		{
			name: "only old usage",
			setup: func(t *testing.T, dir string) {
				writeSession(t, filepath.Join(dir, "p", "s.jsonl"),
					assistantLine("r1", "m1", now.Add(-30*24*time.Hour), "claude-sonnet-4", 1000, 500))
			},
			wantNote: func(string) string { return "no usage tokens found in project logs" },
		},
		{
			name: "current session",
			setup: func(t *testing.T, dir string) {
				writeSession(t, filepath.Join(dir, "p", "current.jsonl"),
					assistantLine("r1", "m1", now.Add(-time.Hour), "claude-sonnet-4", 1000, 500))
			},
			wantNote: func(string) string {
				return "derived Claude metrics from current session file: current.jsonl"
			},
			wantDetails: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "projects")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			tt.setup(t, dir)

			stats := writeStats(t, `{"limits":{"weekly":{"percent_used":10}}}`)
			ext := &ClaudeExtractor{StatsPath: stats, ProjectsPath: dir, Now: func() time.Time { return now }}

			obs, err := ext.Extract(context.Background(), ProviderSettings{})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.wantNote(dir)}, obs.Notes)
			assert.Equal(t, tt.wantDetails, obs.Details != nil)
			require.NotNil(t, obs.WeeklyUsedPct)
			assert.Equal(t, 10.0, *obs.WeeklyUsedPct)
		})
	}
}

func TestClaudeProjectNotesSkippedOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, filepath.Join(dir, "p", "s.jsonl"), `not json`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := writeStats(t, `{"limits":{"weekly":{"percent_used":10}}}`)
	obs, err := (&ClaudeExtractor{StatsPath: stats, ProjectsPath: dir}).Extract(ctx, ProviderSettings{})
	require.NoError(t, err)
	assert.Empty(t, obs.Notes)
	assert.Nil(t, obs.Details)
}

func TestGeminiStub(t *testing.T) {
	obs, err := GeminiExtractor{}.Extract(context.Background(), ProviderSettings{Enabled: true})
	require.NoError(t, err)
	assert.False(t, obs.any())
	assert.Equal(t, []string{"gemini adapter is a stub; configure manual values"}, obs.Notes)
}
