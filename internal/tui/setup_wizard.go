package tui

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatloom/internal/app"
)

// SetupWizard walks through the three settings a fresh install needs:
// server address, model, theme. Everything else keeps its default.
type SetupWizard struct {
	step      int
	serverURL string
	model     string
	statusMsg string
	input     textinput.Model
	saved     bool
	done      bool
	cfg       app.Config
	path      string
	width     int
	height    int
	themes    []ThemeName
	selected  int
}

func NewSetupWizard(cfg app.Config, path string) *SetupWizard {
	s := &SetupWizard{
		cfg:    cfg,
		path:   path,
		themes: []ThemeName{ThemePorcelain, ThemeMidnight},
		input:  textinput.New(),
	}
	s.input.Placeholder = cfg.ServerURL
	s.input.Focus()
	return s
}

func (s *SetupWizard) Init() tea.Cmd {
	return textinput.Blink
}

func (s *SetupWizard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			s.done = true
			return s, tea.Quit

		case "enter":
			switch s.step {
			case 0:
				val := strings.TrimSpace(s.input.Value())
				if val == "" {
					val = s.cfg.ServerURL
				}
				if _, err := url.ParseRequestURI(val); err != nil {
					s.statusMsg = "That does not look like a URL"
					break
				}
				s.serverURL = val
				s.step = 1
				s.input.SetValue("")
				s.input.Placeholder = s.cfg.Model
			case 1:
				s.model = strings.TrimSpace(s.input.Value())
				if s.model == "" {
					s.model = s.cfg.Model
				}
				s.step = 2
			case 2:
				s.step = 3
			case 3:
				s.cfg.ServerURL = s.serverURL
				s.cfg.Model = s.model
				s.cfg.Theme = string(s.themes[s.selected])
				if err := app.SaveConfig(s.cfg, s.path); err != nil {
					s.statusMsg = fmt.Sprintf("Could not save: %v", err)
				} else {
					s.saved = true
					s.done = true
					return s, tea.Quit
				}
			}

		case "up", "k":
			if s.step == 2 && s.selected > 0 {
				s.selected--
			} else if s.step > 0 && s.step != 2 {
				s.step--
				if s.step == 0 {
					s.input.SetValue(s.serverURL)
					s.input.Placeholder = s.cfg.ServerURL
				}
			}
		case "down", "j":
			if s.step == 2 && s.selected < len(s.themes)-1 {
				s.selected++
			}

		default:
			if s.step <= 1 {
				s.input, cmd = s.input.Update(msg)
				return s, cmd
			}
		}

	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
	}

	return s, cmd
}

func (s *SetupWizard) View() string {
	if s.done {
		return ""
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#1f6feb")).
		Padding(0, 2).
		Render("  loom setup  ")

	var body string
	switch s.step {
	case 0:
		body = fmt.Sprintf(`
Step 1 of 4: Server address

Where is the loom backend running?

%s

Server: %s

Enter to continue, Ctrl+C to cancel.
`, s.statusMsg, s.input.View())
		s.statusMsg = ""

	case 1:
		body = fmt.Sprintf(`
Step 2 of 4: Model

Leave blank to keep %q.

Model: %s

Up to go back, Enter to continue.
`, s.cfg.Model, s.input.View())

	case 2:
		options := ""
		for i, name := range s.themes {
			marker := "○"
			if i == s.selected {
				marker = "●"
			}
			options += fmt.Sprintf("  %s %s\n", marker, name)
		}
		body = fmt.Sprintf(`
Step 3 of 4: Theme

%s
Use ↑/↓ to select, Enter to confirm.
`, options)

	case 3:
		body = fmt.Sprintf(`
Step 4 of 4: Confirm

  Server:  %s
  Model:   %s
  Theme:   %s

Saving to %s

%s
Enter to save, Ctrl+C to cancel.
`, s.serverURL, s.model, s.themes[s.selected], s.path, s.statusMsg)
	}

	progress := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#46d1b7")).
		Render(strings.Repeat("▓", (s.step+1)*10) + strings.Repeat("░", (3-s.step)*10))

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Render("\n↑/↓ Navigate  |  Enter Confirm  |  Ctrl+C Cancel")

	content := header + "\n\n" + progress + "\n" + body + help

	paddingTop := maxInt(0, (s.height-18)/2)
	return strings.Repeat("\n", paddingTop) + content
}

// Saved reports whether the wizard wrote a config before exiting.
func (s *SetupWizard) Saved() bool {
	return s.saved
}
