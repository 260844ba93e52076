package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/valentindosimont/usagedash/internal/usage"
)

const (
	labelWidth   = 11
	defaultBar   = 30
	minCardWidth = 40
	resetLayout  = "Jan 02 15:04"
	tableLayout  = "2006-01-02 15:04"
)

// CardOptions controls how a provider card is drawn
type CardOptions struct {
	Width    int
	Now      time.Time
	Location *time.Location
}

func (o CardOptions) normalized() CardOptions {
	if o.Width < minCardWidth {
		o.Width = minCardWidth
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Card renders one provider record as a bordered panel
func Card(rec usage.StatusRecord, opts CardOptions) string {
	opts = opts.normalized()
	inner := opts.Width - 4
	barWidth := min(defaultBar, inner-labelWidth-9)

	var rows []string
	row := func(label string, style lipgloss.Style, value string) {
		line := style.Width(labelWidth).Render(label) + value
		rows = append(rows, ansi.Truncate(line, inner, "…"))
	}

	status := lipgloss.NewStyle().Bold(true).Foreground(healthColor(rec.Status)).
		Render("● " + strings.ToUpper(string(rec.Status)))
	row("Status", labelStyle, status+mutedStyle.Render("    source: "+string(rec.Source)))

	rows = append(rows, "")
	row("Session", sessionLabelStyle, usageBar(rec.SessionUsedPct, barWidth))
	row("  resets", mutedStyle, valueStyle.Render(formatReset(rec.SessionResetsAt, opts.Now, opts.Location)))

	rows = append(rows, "")
	row("Weekly", weeklyLabelStyle, usageBar(rec.WeeklyUsedPct, barWidth))
	row("  resets", mutedStyle, valueStyle.Render(formatReset(rec.WeeklyResetsAt, opts.Now, opts.Location)))

	if d := rec.Details; d != nil && rec.Provider == usage.ProviderClaude {
		rows = append(rows, "")
		row("Tokens", detailLabelStyle, valueStyle.Render(
			fmt.Sprintf("%s / %s  (P90 limit)", humanize.Comma(d.SessionTokens), humanize.Comma(d.TokenLimitP90))))
		row("Messages", detailLabelStyle, valueStyle.Render(
			fmt.Sprintf("%s / %s  (P90 limit)", humanize.Comma(int64(d.SessionMessages)), humanize.Comma(d.MessageLimitP90))))
		row("Burn rate", detailLabelStyle, valueStyle.Render(formatRate(d.BurnRateTokensPerMin)))
		row("Runout", detailLabelStyle, formatRunout(d.PredictedRunoutAt, opts.Now))
		if models := formatModels(d.ModelDistribution); models != "" {
			row("Models", detailLabelStyle, models)
		}
		if d.EstimatedCostUSD > 0 {
			row("Cost", detailLabelStyle, valueStyle.Render(fmt.Sprintf("$%.2f", d.EstimatedCostUSD)))
		}
	}

	if len(rec.Messages) > 0 {
		rows = append(rows, "")
		row("Notes", mutedStyle, notesStyle.Render(strings.Join(rec.Messages, " | ")))
	}

	title := titleStyle.Render(strings.ToUpper(string(rec.Provider)))
	updated := ""
	if !rec.LastUpdatedAt.IsZero() {
		updated = mutedStyle.Render("updated " + rec.LastUpdatedAt.In(opts.Location).Format("15:04:05"))
	}
	gap := max(1, inner-lipgloss.Width(title)-lipgloss.Width(updated))
	header := title + strings.Repeat(" ", gap) + updated

	body := lipgloss.JoinVertical(lipgloss.Left, append([]string{header, ""}, rows...)...)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(healthColor(rec.Status)).
		Padding(0, 1).
		Width(opts.Width - 2).
		Render(body)
}

// PlaceholderCard renders a card for a provider that has no record
func PlaceholderCard(p usage.Provider, reason string, width int) string {
	if width < minCardWidth {
		width = minCardWidth
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(strings.ToUpper(string(p))),
		"",
		mutedStyle.Render(reason),
	)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Padding(0, 1).
		Width(width - 2).
		Render(body)
}

// Table renders a snapshot as a one-row-per-provider table
func Table(snap usage.Snapshot, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorPrimary)).
		Headers("Provider", "Status", "Session Used%", "Session Reset", "Weekly Used%", "Weekly Reset", "Source", "Messages").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(colorSecondary).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, rec := range snap.Providers {
		t.Row(
			string(rec.Provider),
			string(rec.Status),
			formatPct(rec.SessionUsedPct),
			formatTime(rec.SessionResetsAt, loc),
			formatPct(rec.WeeklyUsedPct),
			formatTime(rec.WeeklyResetsAt, loc),
			string(rec.Source),
			strings.Join(rec.Messages, " | "),
		)
	}
	return t.String()
}

// ModelName shortens a vendor model id: claude-sonnet-4-5-20250514 becomes "sonnet 4.5"
func ModelName(raw string) string {
	parts := strings.Split(raw, "-")
	switch parts[0] {
	case "claude", "gpt", "o", "gemini":
		parts = parts[1:]
	}
	if n := len(parts); n > 0 && len(parts[n-1]) == 8 && isDigits(parts[n-1]) {
		parts = parts[:n-1]
	}
	if len(parts) == 0 {
		return raw
	}

	var names, versions []string
	for _, p := range parts {
		if isDigits(p) {
			versions = append(versions, p)
		} else {
			names = append(names, p)
		}
	}
	name := strings.Join(names, "-")
	if name == "" {
		name = strings.Join(parts, "-")
	}
	if len(versions) == 0 {
		return name
	}
	return name + " " + strings.Join(versions, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func barColor(pct float64) lipgloss.Color {
	switch {
	case pct >= 80:
		return colorUrgent
	case pct >= 50:
		return colorSecondary
	default:
		return colorSuccess
	}
}

func healthColor(h usage.Health) lipgloss.Color {
	switch h {
	case usage.HealthOK:
		return colorOK
	case usage.HealthPartial:
		return colorPartial
	case usage.HealthError:
		return colorError
	default:
		return colorMuted
	}
}

func usageBar(v *float64, width int) string {
	if v == nil {
		return mutedStyle.Render("── no data ──")
	}
	shown := max(0, *v)
	color := barColor(shown)
	bar := progress.New(
		progress.WithSolidFill(string(color)),
		progress.WithWidth(max(width, 10)),
		progress.WithoutPercentage(),
	)
	return bar.ViewAs(min(100, shown)/100) +
		lipgloss.NewStyle().Bold(true).Foreground(color).Render(fmt.Sprintf("  %5.1f%%", shown))
}

func formatReset(t *time.Time, now time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format(resetLayout) + "  (" + humanize.RelTime(*t, now, "ago", "from now") + ")"
}

func formatRate(v float64) string {
	switch {
	case v <= 0:
		return "-"
	case v >= 1000:
		return humanize.Comma(int64(v+0.5)) + " tok/min"
	default:
		return fmt.Sprintf("%.1f tok/min", v)
	}
}

func formatRunout(t *time.Time, now time.Time) string {
	if t == nil {
		return mutedStyle.Render("-")
	}
	remaining := t.Sub(now)
	if remaining <= 0 {
		return urgentStyle.Render("EXHAUSTED")
	}

	hours := int(remaining.Hours())
	minutes := int(remaining.Minutes()) % 60
	text := fmt.Sprintf("%dm remaining", minutes)
	if hours > 0 {
		text = fmt.Sprintf("%dh %dm remaining", hours, minutes)
	}

	color := colorSuccess
	switch {
	case remaining < 30*time.Minute:
		color = colorUrgent
	case remaining < 2*time.Hour:
		color = colorSecondary
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

// formatModels lists models by share, largest first
func formatModels(dist map[string]float64) string {
	if len(dist) == 0 {
		return ""
	}
	names := make([]string, 0, len(dist))
	for name := range dist {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if dist[names[i]] != dist[names[j]] {
			return dist[names[i]] > dist[names[j]]
		}
		return names[i] < names[j]
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, sessionLabelStyle.Render(ModelName(name))+" "+
			valueStyle.Render(humanize.FtoaWithDigits(dist[name], 1)+"%"))
	}
	return strings.Join(parts, "  ")
}

func formatPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format(tableLayout)
}
