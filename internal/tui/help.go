package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

type helpModel struct {
	keys  keyMap
	width int
}

func newHelpModel() helpModel {
	return helpModel{
		keys:  defaultKeyMap(),
		width: 80,
	}
}

func (m *helpModel) SetWidth(width int) {
	m.width = width
}

func (m helpModel) View() string {
	var b strings.Builder

	b.WriteString(helpTitleStyle.Render("loom help"))
	b.WriteString("\n\n")

	b.WriteString(helpSectionStyle.Render("chat"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s  send message\n", helpKeyStyle.Render("enter")))
	b.WriteString(fmt.Sprintf("  %s  recall earlier prompts\n", helpKeyStyle.Render("up/down")))
	b.WriteString(fmt.Sprintf("  %s  edit your last delivered message\n", helpKeyStyle.Render("ctrl+e")))
	b.WriteString(fmt.Sprintf("  %s  ask the assistant to continue\n", helpKeyStyle.Render("ctrl+g")))
	b.WriteString(fmt.Sprintf("  %s  re-pull the transcript\n", helpKeyStyle.Render("ctrl+r")))

	b.WriteString("\n")

	b.WriteString(helpSectionStyle.Render("panes"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s  cycle focus\n", helpKeyStyle.Render("tab")))
	b.WriteString(fmt.Sprintf("  %s  sessions / knowledge side pane\n", helpKeyStyle.Render("ctrl+t")))
	b.WriteString(helpDescriptionStyle.Render("  sessions: enter switch, n new, r rename, d delete"))
	b.WriteString("\n")
	b.WriteString(helpDescriptionStyle.Render("  knowledge: a add fact, e edit, d delete, u upload"))
	b.WriteString("\n")

	b.WriteString("\n")
	b.WriteString(helpFooterStyle.Render("ctrl+c quit | tab focus | ctrl+n new session"))

	return b.String()
}

type keyMap struct {
	Quit       key.Binding
	Enter      key.Binding
	Escape     key.Binding
	FocusNext  key.Binding
	TogglePane key.Binding
	NewSession key.Binding
	Refresh    key.Binding
	EditLast   key.Binding
	Continue   key.Binding
	Help       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send / confirm"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		FocusNext: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "cycle focus"),
		),
		TogglePane: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("ctrl+t", "sessions/knowledge"),
		),
		NewSession: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("ctrl+n", "new session"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "refresh"),
		),
		EditLast: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("ctrl+e", "edit last message"),
		),
		Continue: key.NewBinding(
			key.WithKeys("ctrl+g"),
			key.WithHelp("ctrl+g", "continue"),
		),
		Help: key.NewBinding(
			key.WithKeys("ctrl+h"),
			key.WithHelp("ctrl+h", "help"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Enter, k.FocusNext, k.TogglePane, k.NewSession, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Enter, k.FocusNext, k.TogglePane, k.Quit},
		{k.NewSession, k.Refresh, k.EditLast, k.Continue},
	}
}

// Minimal transparent styles
var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#BD93F9"))

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF79C6"))

	helpDescriptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6272A4"))

	helpFooterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#44475A")).
			Italic(true)
)
