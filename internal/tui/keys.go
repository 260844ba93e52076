package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	All     key.Binding
	Codex   key.Binding
	Claude  key.Binding
	Gemini  key.Binding
	Next    key.Binding
	Prev    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		All: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "all"),
		),
		Codex: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "codex"),
		),
		Claude: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "claude"),
		),
		Gemini: key.NewBinding(
			key.WithKeys("4"),
			key.WithHelp("4", "gemini"),
		),
		Next: key.NewBinding(
			key.WithKeys("tab", "right", "l"),
			key.WithHelp("tab", "next tab"),
		),
		Prev: key.NewBinding(
			key.WithKeys("shift+tab", "left", "h"),
			key.WithHelp("shift+tab", "prev tab"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.All, k.Codex, k.Claude, k.Gemini, k.Next, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.All, k.Codex, k.Claude, k.Gemini},
		{k.Next, k.Prev, k.Refresh, k.Quit},
	}
}
