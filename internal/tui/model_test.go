package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valentindosimont/usagedash/internal/daemon"
	"github.com/valentindosimont/usagedash/internal/tui/messages"
	"github.com/valentindosimont/usagedash/internal/usage"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 30, 0, time.UTC)

type fakeSource struct {
	events    chan daemon.Event
	refreshes int
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan daemon.Event, 4)}
}

func (f *fakeSource) Events() <-chan daemon.Event { return f.events }
func (f *fakeSource) Refresh()                    { f.refreshes++ }

func pct(v float64) *float64 { return &v }

func testSnapshot() usage.Snapshot {
	reset := testNow.Add(2 * time.Hour)
	return usage.Snapshot{
		GeneratedAt: testNow.Add(-30 * time.Second),
		Providers: []usage.StatusRecord{
			{
				Provider:        usage.ProviderCodex,
				Status:          usage.HealthOK,
				Source:          usage.SourceParsed,
				SessionUsedPct:  pct(42),
				SessionResetsAt: &reset,
				LastUpdatedAt:   testNow,
			},
			{
				Provider:      usage.ProviderClaude,
				Status:        usage.HealthPartial,
				Source:        usage.SourceManual,
				WeeklyUsedPct: pct(85),
				LastUpdatedAt: testNow,
				Messages:      []string{"missing reset timestamps; populated usage only"},
			},
		},
	}
}

func newTestModel(src Source, providers map[usage.Provider]usage.ProviderSettings) *Model {
	m := New(src, Options{
		Providers: providers,
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
	})
	m.Update(tea.WindowSizeMsg{Width: 110, Height: 80})
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func plainView(m *Model) string {
	return ansi.Strip(m.View())
}

func TestViewBeforeResize(t *testing.T) {
	m := New(newFakeSource(), Options{})
	assert.Equal(t, "Loading...", m.View())
}

func TestViewCollecting(t *testing.T) {
	m := newTestModel(newFakeSource(), nil)
	view := plainView(m)

	assert.Contains(t, view, "USAGEDASH")
	assert.Contains(t, view, "1 ALL")
	assert.Contains(t, view, "4 GEMINI")
	assert.Contains(t, view, "refreshing…")
	assert.Contains(t, view, "collecting…")
}

func TestSnapshotEvent(t *testing.T) {
	m := newTestModel(newFakeSource(), nil)

	_, cmd := m.Update(messages.MonitorEventMsg{Event: daemon.Event{Type: daemon.EventSnapshot, Snapshot: testSnapshot()}})
	require.NotNil(t, cmd)

	view := plainView(m)
	assert.Contains(t, view, "updated 30 seconds ago")
	assert.Contains(t, view, "42.0%")
	assert.Contains(t, view, "85.0%")
	assert.Contains(t, view, "● OK")
	assert.Contains(t, view, "● PARTIAL")
	assert.Contains(t, view, "Mar 14 11:30  (2 hours from now)")
	assert.Contains(t, view, "missing reset timestamps; populated usage only")
	// gemini is enabled (no settings given) but absent from the snapshot
	assert.Contains(t, view, "no data in the last snapshot")
}

func TestErrorEventKeepsSnapshot(t *testing.T) {
	m := newTestModel(newFakeSource(), nil)
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Type: daemon.EventSnapshot, Snapshot: testSnapshot()}})
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{
		Type: daemon.EventError,
		Err:  errors.New("claude: read stats: permission denied"),
		Time: testNow.Add(-time.Minute),
	}})

	view := plainView(m)
	assert.Contains(t, view, "refresh failed 1 minute ago: claude: read stats: permission denied")
	assert.Contains(t, view, "42.0%")

	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Type: daemon.EventSnapshot, Snapshot: testSnapshot()}})
	assert.NotContains(t, plainView(m), "refresh failed")
}

func TestTabKeys(t *testing.T) {
	tests := []struct {
		name  string
		start Tab
		key   tea.KeyMsg
		want  Tab
	}{
		{"all", TabGemini, keyRunes("1"), TabAll},
		{"codex", TabAll, keyRunes("2"), TabCodex},
		{"claude", TabAll, keyRunes("3"), TabClaude},
		{"gemini", TabAll, keyRunes("4"), TabGemini},
		{"tab cycles", TabAll, tea.KeyMsg{Type: tea.KeyTab}, TabCodex},
		{"tab wraps", TabGemini, tea.KeyMsg{Type: tea.KeyTab}, TabAll},
		{"shift+tab wraps", TabAll, tea.KeyMsg{Type: tea.KeyShiftTab}, TabGemini},
		{"unbound key", TabClaude, keyRunes("x"), TabClaude},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(newFakeSource(), nil)
			m.tab = tt.start
			m.Update(tt.key)
			assert.Equal(t, tt.want, m.Tab())
		})
	}
}

func TestSingleProviderTab(t *testing.T) {
	m := newTestModel(newFakeSource(), nil)
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Snapshot: testSnapshot()}})
	m.Update(keyRunes("3"))

	view := plainView(m)
	assert.Contains(t, view, "85.0%")
	assert.NotContains(t, view, "42.0%")
}

func TestDisabledProvider(t *testing.T) {
	m := newTestModel(newFakeSource(), map[usage.Provider]usage.ProviderSettings{
		usage.ProviderCodex:  {Enabled: true},
		usage.ProviderClaude: {Enabled: true},
	})
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Snapshot: testSnapshot()}})
	m.Update(keyRunes("4"))

	assert.Contains(t, plainView(m), "disabled; enable with: usagedash config set providers.gemini.enabled true")
}

func TestRefreshKey(t *testing.T) {
	src := newFakeSource()
	m := newTestModel(src, nil)
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Snapshot: testSnapshot()}})
	assert.NotContains(t, plainView(m), "refreshing…")

	m.Update(keyRunes("r"))
	assert.Equal(t, 1, src.refreshes)
	assert.Contains(t, plainView(m), "refreshing…")
}

func TestQuitKey(t *testing.T) {
	for _, k := range []tea.KeyMsg{keyRunes("q"), {Type: tea.KeyCtrlC}} {
		m := newTestModel(newFakeSource(), nil)
		_, cmd := m.Update(k)
		require.NotNil(t, cmd)
		assert.Equal(t, tea.QuitMsg{}, cmd())
	}
}

func TestMonitorCmd(t *testing.T) {
	src := newFakeSource()
	m := newTestModel(src, nil)

	src.events <- daemon.Event{Trigger: daemon.TriggerManual}
	msg := m.monitorCmd()()
	ev, ok := msg.(messages.MonitorEventMsg)
	require.True(t, ok)
	assert.Equal(t, daemon.TriggerManual, ev.Event.Trigger)

	close(src.events)
	assert.Equal(t, messages.MonitorClosedMsg{}, m.monitorCmd()())
}

func TestTickAdvancesClock(t *testing.T) {
	current := testNow
	m := New(newFakeSource(), Options{Now: func() time.Time { return current }})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 60})
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Snapshot: testSnapshot()}})

	current = testNow.Add(2 * time.Minute)
	_, cmd := m.Update(messages.TickMsg{Time: current})
	assert.NotNil(t, cmd)
	assert.Contains(t, plainView(m), "updated 2 minutes ago")
}

func TestViewFitsHeight(t *testing.T) {
	m := newTestModel(newFakeSource(), nil)
	m.Update(tea.WindowSizeMsg{Width: 90, Height: 20})
	m.Update(messages.MonitorEventMsg{Event: daemon.Event{Snapshot: testSnapshot()}})

	assert.LessOrEqual(t, len(splitLines(m.View())), 20)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
