package tui

import (
	"fmt"
	"strings"
	"time"

	"chatloom/internal/app"

	"github.com/charmbracelet/lipgloss"
)

// layoutInfo carries outer dimensions. Pane widths include the border
// and padding frame; ChatInnerW/H is what fits inside the chat pane
// after the frame and the title row.
type layoutInfo struct {
	TopH  int
	FootH int

	MainH int

	ChatW      int
	ChatInnerW int
	ChatInnerH int

	SideW     int
	SideListH int

	InputH int
	InputW int
}

func (m *MainModel) computeLayout() layoutInfo {
	top := 1
	foot := 1
	inputH := 3
	mainH := m.height - top - foot - inputH
	if mainH < 5 {
		mainH = 5
	}

	frameW := m.theme.Pane.GetHorizontalFrameSize()
	frameH := m.theme.Pane.GetVerticalFrameSize()

	// The side pane needs room; below 100 columns the chat takes all.
	showSide := m.width >= 100
	chatW := m.width
	sideW := 0
	if showSide {
		gap := 1
		chatW = int(float64(m.width-gap) * 0.62)
		if chatW < 50 {
			chatW = 50
		}
		sideW = m.width - gap - chatW
		if sideW < 32 {
			sideW = 32
			chatW = m.width - gap - sideW
		}
	}

	return layoutInfo{
		TopH: top, FootH: foot, MainH: mainH,
		ChatW:      chatW,
		ChatInnerW: maxInt(20, chatW-frameW),
		ChatInnerH: maxInt(1, mainH-frameH-1),
		SideW:      sideW,
		SideListH:  maxInt(1, mainH-frameH-1),
		InputH:     inputH,
		InputW:     maxInt(10, m.width-frameW-2),
	}
}

func (m *MainModel) View() string {
	if !m.ready {
		return "…"
	}

	layout := m.computeLayout()
	top := m.renderTopBar()
	var main string
	if m.showHelp {
		box := m.theme.Pane
		main = box.
			Width(m.width - box.GetHorizontalFrameSize()).
			Height(layout.MainH - box.GetVerticalFrameSize()).
			MaxHeight(layout.MainH).
			Render(m.help.View())
	} else {
		main = m.renderMain(layout)
	}
	input := m.renderInputArea(layout)
	footer := m.renderFooter()
	return lipgloss.JoinVertical(lipgloss.Left, top, main, input, footer)
}

func (m *MainModel) renderTopBar() string {
	badge := "no session"
	if sess, ok := m.app.Sessions.ActiveSession(); ok {
		badge = sess.DisplayName()
	}
	left := m.theme.TopBarTitle.Render("loom") + " " + m.theme.TopBarBadge.Render(truncateRunes(badge, 28))

	text := truncateRunes(oneLine(m.statusText), maxInt(10, m.width/3))
	var status string
	switch {
	case m.inflight > 0:
		status = m.theme.Spinner.Render(spinnerFrames[m.spinnerPos] + " " + text)
	case m.statusErr:
		status = m.theme.StatusErr.Render(text)
	default:
		status = m.theme.TopBarMeta.Render(text)
	}
	meta := time.Now().Format("15:04")
	if pct, ok := m.contextUsage(); ok && pct >= 75 {
		meta = fmt.Sprintf("ctx %d%% · %s", pct, meta)
	}
	right := m.theme.TopBarMeta.Render(meta)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	a := gap / 2
	b := gap - a
	bar := left + strings.Repeat(" ", a) + status + strings.Repeat(" ", b) + right
	return m.theme.TopBar.MaxWidth(m.width).Render(bar)
}

func (m *MainModel) renderFooter() string {
	if m.mode != inputChat {
		return m.theme.Footer.Width(m.width).Render("Enter confirm  Esc cancel")
	}
	hints := "Tab focus  Ctrl+T side pane  Ctrl+N new session  Ctrl+E edit  Ctrl+G continue  Ctrl+H help  Ctrl+C quit"
	if m.width < 110 {
		hints = "Tab focus  Ctrl+T side  Ctrl+N new  Ctrl+H help  Ctrl+C quit"
	}
	if draft := strings.TrimSpace(m.input.Value()); draft != "" {
		hints = fmt.Sprintf("≈%d tok  %s", app.EstimateTokens(draft), hints)
	}
	hints = truncateRunes(hints, maxInt(10, m.width))
	return m.theme.Footer.Width(m.width).Render(hints)
}

func (m *MainModel) renderInputArea(l layoutInfo) string {
	box := m.theme.InputBox
	if m.focus == focusInput {
		box = m.theme.InputBoxF
	}
	return box.
		Width(maxInt(10, m.width-box.GetHorizontalFrameSize())).
		MaxHeight(l.InputH).
		Render(m.input.View())
}

func (m *MainModel) renderMain(l layoutInfo) string {
	chatPane := m.renderChatPane(l)
	if l.SideW <= 0 {
		return chatPane
	}
	sidePane := m.renderSidePane(l)
	sep := m.theme.PaneDivider.Render("│")
	return lipgloss.JoinHorizontal(lipgloss.Top, chatPane, sep, sidePane)
}

func (m *MainModel) renderChatPane(l layoutInfo) string {
	title := "Chat"
	if m.focus == focusChat {
		title = m.theme.PaneTitleF.Render(title)
	} else {
		title = m.theme.PaneTitle.Render(title)
	}
	box := m.theme.Pane
	if m.focus == focusChat {
		box = m.theme.PaneFocused
	}
	return box.
		Width(l.ChatW - box.GetHorizontalFrameSize()).
		Height(l.MainH - box.GetVerticalFrameSize()).
		MaxHeight(l.MainH).
		Render(title + "\n" + m.chatVP.View())
}

func (m *MainModel) renderSidePane(l layoutInfo) string {
	box := m.theme.Pane
	if m.focus == focusSide {
		box = m.theme.PaneFocused
	}

	var content string
	if m.side == sideSessions {
		content = m.renderSessionList(l)
	} else {
		content = m.renderKnowledgeList(l)
	}
	return box.
		Width(l.SideW - box.GetHorizontalFrameSize()).
		Height(l.MainH - box.GetVerticalFrameSize()).
		MaxHeight(l.MainH).
		Render(content)
}

func (m *MainModel) renderSessionList(l layoutInfo) string {
	dir := m.app.Sessions.Directory()
	titleText := fmt.Sprintf("Sessions (%d)", len(dir))
	title := m.theme.PaneTitle.Render(titleText)
	if m.focus == focusSide {
		title = m.theme.PaneTitleF.Render(titleText)
	}

	if len(dir) == 0 {
		return title + "\n" + m.theme.ListDim.Render("No sessions.")
	}

	active := m.app.Sessions.Active()
	start := listWindowStart(m.sessionSel, len(dir), l.SideListH)
	end := minInt(len(dir), start+l.SideListH)

	var b strings.Builder
	b.WriteString(title)
	for i := start; i < end; i++ {
		sess := dir[i]
		prefix := "  "
		style := m.theme.ListItem
		if i == m.sessionSel && m.focus == focusSide {
			prefix = "> "
			style = m.theme.ListSel
		}
		marker := " "
		if sess.ID.Equal(active) {
			marker = "*"
		}
		line := fmt.Sprintf("%s%s %s", prefix, marker, sess.DisplayName())
		line = truncateRunes(oneLine(line), maxInt(12, l.SideW-10))
		meta := m.theme.ListDim.Render(fmt.Sprintf(" %d", sess.RequestCount))
		b.WriteString("\n")
		b.WriteString(style.Render(line) + meta)
	}
	return b.String()
}

func (m *MainModel) renderKnowledgeList(l layoutInfo) string {
	facts := m.app.Knowledge.Facts()
	library := m.app.Knowledge.Documents()
	files := library.SourceFiles()

	titleText := fmt.Sprintf("Knowledge (%d facts, %d files)", len(facts), len(files))
	title := m.theme.PaneTitle.Render(titleText)
	if m.focus == focusSide {
		title = m.theme.PaneTitleF.Render(titleText)
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n" + m.theme.ListHead.Render("Facts"))
	row := 0
	lineFor := func(text string, selectable bool) string {
		prefix := "  "
		style := m.theme.ListItem
		if selectable && row == m.knowSel && m.focus == focusSide {
			prefix = "> "
			style = m.theme.ListSel
		}
		return style.Render(truncateRunes(oneLine(prefix+text), maxInt(12, l.SideW-6)))
	}

	if len(facts) == 0 {
		b.WriteString("\n" + m.theme.ListDim.Render("  Nothing remembered yet."))
	}
	for _, fact := range facts {
		b.WriteString("\n" + lineFor(fact, true))
		row++
	}

	b.WriteString("\n" + m.theme.ListHead.Render("Documents"))
	if len(files) == 0 {
		b.WriteString("\n" + m.theme.ListDim.Render("  Nothing uploaded yet."))
	}
	for _, file := range files {
		label := fmt.Sprintf("%s (%d chunks)", file, len(library[file]))
		b.WriteString("\n" + lineFor(label, true))
		row++
	}
	return b.String()
}

func (m *MainModel) renderMessage(msg app.Message, width int) string {
	var roleStyle lipgloss.Style
	var roleLabel string
	switch msg.Role {
	case app.RoleUser:
		roleStyle = m.theme.RoleYou
		roleLabel = "YOU"
	case app.RoleAssistant:
		roleStyle = m.theme.RoleAI
		roleLabel = "LOOM"
	default:
		roleStyle = m.theme.RoleSys
		roleLabel = "SYS"
	}

	header := roleStyle.Render(roleLabel)
	if !msg.SentAt.IsZero() {
		header += " " + m.theme.TopBarMeta.Render(msg.SentAt.Format("15:04"))
	}
	if msg.Role == app.RoleUser && msg.Pending() {
		header += " " + m.theme.Pending.Render("sending…")
	}

	var body string
	if msg.Role == app.RoleAssistant {
		body = lipgloss.NewStyle().Width(width).Render(m.markdown.Render(msg.Content, width))
	} else {
		style := lipgloss.NewStyle().Foreground(m.theme.TextPrimary)
		if msg.Role == app.RoleSystem {
			style = m.theme.RoleSys
		}
		body = style.Width(width).Render(msg.Content)
	}
	return header + "\n" + body
}

// listWindowStart keeps the selection visible in a window of visible
// rows.
func listWindowStart(sel, total, visible int) int {
	if visible <= 0 {
		visible = 1
	}
	start := sel - visible + 1
	if start < 0 {
		start = 0
	}
	if start > total-1 {
		start = maxInt(0, total-1)
	}
	return start
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	if maxRunes <= 1 {
		return string(r[:maxRunes])
	}
	return string(r[:maxRunes-1]) + "…"
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// contextUsage estimates how much of the model's context window the
// transcript occupies. ok is false for unknown models.
func (m *MainModel) contextUsage() (int, bool) {
	window, ok := app.ContextWindow(m.app.Config.Model)
	if !ok || window <= 0 {
		return 0, false
	}
	used := app.EstimateTranscriptTokens(m.app.Sessions.Transcript())
	return used * 100 / window, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
