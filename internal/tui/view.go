package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/valentindosimont/usagedash/internal/usage"
)

// Colors
var (
	colorPrimary   = lipgloss.Color("#00BFFF")
	colorSecondary = lipgloss.Color("#FFD700")
	colorUrgent    = lipgloss.Color("#FF4444")
	colorSuccess   = lipgloss.Color("#44FF44")
	colorMuted     = lipgloss.Color("#666666")

	colorOK      = lipgloss.Color("#2BE38F")
	colorPartial = lipgloss.Color("#F2C94C")
	colorError   = lipgloss.Color("#FF5E6C")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSecondary)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	urgentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorUrgent)

	labelStyle        = lipgloss.NewStyle().Bold(true)
	sessionLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D7D7"))
	weeklyLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D75FD7"))
	detailLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5F87FF"))
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#E8ECFF"))
	notesStyle        = lipgloss.NewStyle().Italic(true).Foreground(colorMuted)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0C0F1A")).
			Background(colorPrimary).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)
)

const maxCardWidth = 100

// View renders the UI
func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := m.viewHeader(m.width)
	tabBar := m.viewTabs(m.width)
	footer := m.viewFooter(m.width)

	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(tabBar) - lipgloss.Height(footer) - 1
	body := clipLines(m.viewBody(), bodyHeight)

	return lipgloss.JoinVertical(lipgloss.Left, header, tabBar, "", body, footer)
}

func (m *Model) viewHeader(width int) string {
	title := titleStyle.Render("USAGEDASH")

	var status string
	switch {
	case m.refreshing:
		status = mutedStyle.Render("refreshing…")
	case m.haveSnap:
		status = mutedStyle.Render("updated " + humanize.RelTime(m.snap.GeneratedAt, m.now, "ago", "from now"))
	}

	padding := max(1, width-lipgloss.Width(title)-lipgloss.Width(status)-2)
	return " " + title + strings.Repeat(" ", padding) + status + " "
}

func (m *Model) viewTabs(width int) string {
	parts := make([]string, 0, len(tabs))
	for i, t := range tabs {
		label := string(rune('1'+i)) + " " + t.String()
		if t == m.tab {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	row := " " + strings.Join(parts, " ")
	divider := lipgloss.NewStyle().Foreground(colorPrimary).Render(strings.Repeat("─", max(0, width)))
	return lipgloss.JoinVertical(lipgloss.Left, row, divider)
}

func (m *Model) viewBody() string {
	opts := CardOptions{
		Width:    min(m.width-2, maxCardWidth),
		Now:      m.now,
		Location: m.opts.Location,
	}

	if p, ok := m.tab.provider(); ok {
		return indent(m.viewProvider(p, opts))
	}

	cards := make([]string, 0, len(usage.Providers))
	for _, p := range usage.Providers {
		cards = append(cards, m.viewProvider(p, opts))
	}
	return indent(lipgloss.JoinVertical(lipgloss.Left, cards...))
}

func (m *Model) viewProvider(p usage.Provider, opts CardOptions) string {
	if !m.enabled(p) {
		return PlaceholderCard(p, "disabled; enable with: usagedash config set providers."+string(p)+".enabled true", opts.Width)
	}
	if !m.haveSnap {
		return PlaceholderCard(p, "collecting…", opts.Width)
	}
	rec, ok := m.snap.Find(p)
	if !ok {
		return PlaceholderCard(p, "no data in the last snapshot", opts.Width)
	}
	return Card(rec, opts)
}

func (m *Model) viewFooter(width int) string {
	var lines []string
	if m.lastErr != nil {
		msg := "refresh failed"
		if !m.lastErrAt.IsZero() {
			msg += " " + humanize.RelTime(m.lastErrAt, m.now, "ago", "from now")
		}
		msg += ": " + m.lastErr.Error()
		lines = append(lines, ansi.Truncate(" "+urgentStyle.Render(msg), width, "…"))
	}
	lines = append(lines, " "+m.help.View(m.keys))
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = " " + l
	}
	return strings.Join(lines, "\n")
}

func clipLines(s string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= height {
		return s
	}
	return strings.Join(lines[:height], "\n")
}
