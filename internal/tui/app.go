package tui

import (
	"chatloom/internal/app"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the terminal UI over a bootstrapped application and blocks
// until the user quits.
func Run(application *app.Application) error {
	p := tea.NewProgram(NewMainModel(application), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
