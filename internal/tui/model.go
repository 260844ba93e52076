package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/valentindosimont/usagedash/internal/daemon"
	"github.com/valentindosimont/usagedash/internal/tui/messages"
	"github.com/valentindosimont/usagedash/internal/usage"
)

// Source feeds the dashboard; *daemon.Monitor satisfies it
type Source interface {
	Events() <-chan daemon.Event
	Refresh()
}

// Tab is one dashboard page
type Tab int

const (
	TabAll Tab = iota
	TabCodex
	TabClaude
	TabGemini
)

var tabs = []Tab{TabAll, TabCodex, TabClaude, TabGemini}

func (t Tab) String() string {
	switch t {
	case TabCodex:
		return "CODEX"
	case TabClaude:
		return "CLAUDE"
	case TabGemini:
		return "GEMINI"
	default:
		return "ALL"
	}
}

// provider returns the provider shown on a single-provider tab
func (t Tab) provider() (usage.Provider, bool) {
	switch t {
	case TabCodex:
		return usage.ProviderCodex, true
	case TabClaude:
		return usage.ProviderClaude, true
	case TabGemini:
		return usage.ProviderGemini, true
	}
	return "", false
}

// Options configures the dashboard
type Options struct {
	// Providers decides which cards show as disabled
	Providers map[usage.Provider]usage.ProviderSettings
	Location  *time.Location
	Now       func() time.Time
}

// Model is the main Bubbletea model
type Model struct {
	source Source
	opts   Options
	keys   keyMap
	help   help.Model

	width  int
	height int
	tab    Tab

	snap       usage.Snapshot
	haveSnap   bool
	refreshing bool
	lastErr    error
	lastErrAt  time.Time
	now        time.Time
}

// New creates a new TUI model
func New(source Source, opts Options) *Model {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Model{
		source:     source,
		opts:       opts,
		keys:       defaultKeyMap(),
		help:       help.New(),
		refreshing: true,
		now:        opts.Now(),
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.monitorCmd(),
	)
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return messages.TickMsg{Time: t}
	})
}

func (m *Model) monitorCmd() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.source.Events()
		if !ok {
			return messages.MonitorClosedMsg{}
		}
		return messages.MonitorEventMsg{Event: event}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case messages.TickMsg:
		m.now = m.opts.Now()
		return m, m.tickCmd()

	case messages.MonitorEventMsg:
		m.handleEvent(msg.Event)
		return m, m.monitorCmd()

	case messages.MonitorClosedMsg:
		m.refreshing = false
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleEvent(ev daemon.Event) {
	m.refreshing = false
	m.now = m.opts.Now()
	if ev.Type == daemon.EventError {
		m.lastErr = ev.Err
		m.lastErrAt = ev.Time
		return
	}
	m.snap = ev.Snapshot
	m.haveSnap = true
	m.lastErr = nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		m.refreshing = true
		m.source.Refresh()
	case key.Matches(msg, m.keys.All):
		m.tab = TabAll
	case key.Matches(msg, m.keys.Codex):
		m.tab = TabCodex
	case key.Matches(msg, m.keys.Claude):
		m.tab = TabClaude
	case key.Matches(msg, m.keys.Gemini):
		m.tab = TabGemini
	case key.Matches(msg, m.keys.Next):
		m.tab = tabs[(int(m.tab)+1)%len(tabs)]
	case key.Matches(msg, m.keys.Prev):
		m.tab = tabs[(int(m.tab)+len(tabs)-1)%len(tabs)]
	}
	return nil
}

// Tab returns the active tab
func (m *Model) Tab() Tab {
	return m.tab
}

func (m *Model) enabled(p usage.Provider) bool {
	if m.opts.Providers == nil {
		return true
	}
	return m.opts.Providers[p].Enabled
}
