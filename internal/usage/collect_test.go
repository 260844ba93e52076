package usage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubExtractor struct {
	provider Provider
	obs      Observation
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (s *stubExtractor) Provider() Provider { return s.provider }

func (s *stubExtractor) Extract(ctx context.Context, _ ProviderSettings) (Observation, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		}
	}
	return s.obs, s.err
}

func allEnabled() map[Provider]ProviderSettings {
	return map[Provider]ProviderSettings{
		ProviderCodex:  {Enabled: true, ParserMode: ParserHybrid},
		ProviderClaude: {Enabled: true, ParserMode: ParserHybrid},
		ProviderGemini: {Enabled: true, ParserMode: ParserHybrid},
	}
}

func TestCollectKeepsProviderOrder(t *testing.T) {
	extractors := map[Provider]Extractor{
		ProviderCodex:  &stubExtractor{provider: ProviderCodex, delay: 30 * time.Millisecond, obs: Observation{SessionUsedPct: pct(1)}},
		ProviderClaude: &stubExtractor{provider: ProviderClaude, delay: 10 * time.Millisecond},
		ProviderGemini: GeminiExtractor{},
	}
	c := NewCollector(extractors, WithClock(func() time.Time { return fixedNow }))

	snap, err := c.Collect(context.Background(), allEnabled())
	require.NoError(t, err)

	require.Len(t, snap.Providers, 3)
	assert.Equal(t, ProviderCodex, snap.Providers[0].Provider)
	assert.Equal(t, ProviderClaude, snap.Providers[1].Provider)
	assert.Equal(t, ProviderGemini, snap.Providers[2].Provider)
	assert.Equal(t, fixedNow, snap.GeneratedAt)
}

func TestCollectSkipsDisabled(t *testing.T) {
	codex := &stubExtractor{provider: ProviderCodex}
	gemini := &stubExtractor{provider: ProviderGemini}
	c := NewCollector(map[Provider]Extractor{ProviderCodex: codex, ProviderGemini: gemini})

	settings := allEnabled()
	settings[ProviderGemini] = ProviderSettings{Enabled: false}
	delete(settings, ProviderClaude)

	snap, err := c.Collect(context.Background(), settings)
	require.NoError(t, err)

	require.Len(t, snap.Providers, 1)
	assert.Equal(t, ProviderCodex, snap.Providers[0].Provider)
	assert.Equal(t, int32(0), gemini.calls.Load())
}

func TestCollectEmptySettings(t *testing.T) {
	snap, err := NewCollector(nil).Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Providers)
	assert.NotNil(t, snap.Providers)
}

func TestCollectManualParserMode(t *testing.T) {
	codex := &stubExtractor{provider: ProviderCodex, obs: Observation{SessionUsedPct: pct(99)}}
	c := NewCollector(map[Provider]Extractor{ProviderCodex: codex})

	settings := map[Provider]ProviderSettings{
		ProviderCodex: {Enabled: true, ParserMode: ParserManual, Manual: ManualOverride{SessionUsedPct: pct(12)}},
	}
	snap, err := c.Collect(context.Background(), settings)
	require.NoError(t, err)

	rec := snap.Providers[0]
	assert.Equal(t, int32(0), codex.calls.Load())
	assert.Equal(t, 12.0, *rec.SessionUsedPct)
	assert.Equal(t, SourceManual, rec.Source)
	assert.Equal(t, []string{noteParserDisabled, noteMissingResets}, rec.Messages)
}

func TestCollectManualParserModeRunsStub(t *testing.T) {
	c := NewCollector(map[Provider]Extractor{ProviderGemini: GeminiExtractor{}})

	settings := map[Provider]ProviderSettings{
		ProviderGemini: {Enabled: true, ParserMode: ParserManual},
	}
	snap, err := c.Collect(context.Background(), settings)
	require.NoError(t, err)

	rec := snap.Providers[0]
	assert.Equal(t, HealthError, rec.Status)
	assert.Equal(t, []string{noteGeminiStub, noteNoMetrics}, rec.Messages)
}

func TestCollectErrorAbortsByDefault(t *testing.T) {
	boom := errors.New("permission denied")
	extractors := map[Provider]Extractor{
		ProviderCodex:  &stubExtractor{provider: ProviderCodex},
		ProviderClaude: &stubExtractor{provider: ProviderClaude, err: &ProviderError{Provider: ProviderClaude, Err: boom}},
	}

	_, err := NewCollector(extractors).Collect(context.Background(), allEnabled())
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ProviderClaude, perr.Provider)
	assert.ErrorIs(t, err, boom)
}

func TestCollectWrapsPlainErrors(t *testing.T) {
	extractors := map[Provider]Extractor{
		ProviderCodex: &stubExtractor{provider: ProviderCodex, err: errors.New("plain")},
	}

	_, err := NewCollector(extractors).Collect(context.Background(), allEnabled())

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ProviderCodex, perr.Provider)
}

func TestCollectLenientSkipsFailedProvider(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	extractors := map[Provider]Extractor{
		ProviderCodex:  &stubExtractor{provider: ProviderCodex, err: &ProviderError{Provider: ProviderCodex, Err: errors.New("io")}},
		ProviderClaude: &stubExtractor{provider: ProviderClaude},
		ProviderGemini: GeminiExtractor{},
	}
	c := NewCollector(extractors, WithLenient(true), WithLogger(zap.New(core)))

	snap, err := c.Collect(context.Background(), allEnabled())
	require.NoError(t, err)

	require.Len(t, snap.Providers, 2)
	assert.Equal(t, ProviderClaude, snap.Providers[0].Provider)
	assert.Equal(t, ProviderGemini, snap.Providers[1].Provider)
	assert.Equal(t, 1, logs.FilterMessage("skipping provider").Len())
}

func TestCollectCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	extractors := map[Provider]Extractor{
		ProviderCodex: &stubExtractor{provider: ProviderCodex, delay: time.Second},
	}
	_, err := NewCollector(extractors, WithLenient(true)).Collect(ctx, allEnabled())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectMissingExtractorReconcilesManual(t *testing.T) {
	settings := map[Provider]ProviderSettings{
		ProviderGemini: {Enabled: true, Manual: ManualOverride{WeeklyUsedPct: pct(33), WeeklyResetAt: at(fixedNow)}},
	}
	snap, err := NewCollector(map[Provider]Extractor{}).Collect(context.Background(), settings)
	require.NoError(t, err)

	rec := snap.Providers[0]
	assert.Equal(t, HealthOK, rec.Status)
	assert.Equal(t, SourceManual, rec.Source)
}

func TestDefaultExtractors(t *testing.T) {
	ext := DefaultExtractors(DefaultPaths("/home/me"), nil)

	for _, p := range Providers {
		require.Contains(t, ext, p)
		assert.Equal(t, p, ext[p].Provider())
	}
	assert.Equal(t, "/home/me/.codex/history.jsonl", ext[ProviderCodex].(*CodexExtractor).HistoryPath)
	assert.Equal(t, "/home/me/.claude/stats-cache.json", ext[ProviderClaude].(*ClaudeExtractor).StatsPath)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" Claude ")
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, p)
	assert.Equal(t, "Claude", p.Title())

	_, err = ParseProvider("copilot")
	assert.Error(t, err)
}
