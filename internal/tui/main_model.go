package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatloom/internal/app"
	"chatloom/internal/rpc"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusChat
	focusSide
)

// sideView selects what the side pane shows.
type sideView int

const (
	sideSessions sideView = iota
	sideKnowledge
)

// inputMode says what the next Enter in the input box means.
type inputMode int

const (
	inputChat inputMode = iota
	inputRename
	inputAddFact
	inputEditFact
	inputUpload
	inputEditMessage
)

type spinMsg struct{}

type chatDoneMsg struct {
	res app.SyncResult
	err error
}

type editDoneMsg struct {
	res app.SyncResult
	err error
}

type continueDoneMsg struct {
	res app.SyncResult
	err error
}

type refreshDoneMsg struct{ err error }

type directoryDoneMsg struct {
	action string
	err    error
}

type knowledgeDoneMsg struct {
	action string
	res    app.OpResult
	err    error
}

type uploadDoneMsg struct {
	res rpc.UploadResult
	err error
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// knowledgeEntry is one selectable row in the knowledge pane.
type knowledgeEntry struct {
	isDoc bool
	text  string // fact text or source file name
}

type MainModel struct {
	app *app.Application

	theme Theme
	help  helpModel

	width  int
	height int
	ready  bool

	focus    focusArea
	side     sideView
	showHelp bool

	input    textarea.Model
	chatVP   viewport.Model
	markdown *MarkdownRenderer

	mode       inputMode
	editTarget rpc.ID
	factTarget string

	sessionSel int
	knowSel    int

	inflight   int
	statusText string
	statusErr  bool
	spinnerPos int

	histItems []string
	histPos   int
	histDraft string
}

func NewMainModel(application *app.Application) *MainModel {
	ta := textarea.New()
	ta.Placeholder = "Message, then Enter. Tab switches focus."
	ta.Focus()
	ta.CharLimit = 20000
	ta.SetHeight(1)
	ta.Prompt = " "
	ta.ShowLineNumbers = false

	// Keep textarea styling minimal; we style the input container instead.
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle()
	ta.BlurredStyle.Base = lipgloss.NewStyle()

	m := &MainModel{
		app:        application,
		theme:      NewTheme(application.Config.Theme),
		help:       newHelpModel(),
		width:      100,
		height:     30,
		focus:      focusInput,
		side:       sideSessions,
		input:      ta,
		markdown:   NewMarkdownRenderer(),
		statusText: "Ready",
		histPos:    -1,
	}
	return m
}

func (m *MainModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.SetWidth(m.width)

		layout := m.computeLayout()
		if !m.ready {
			m.chatVP = viewport.New(layout.ChatInnerW, layout.ChatInnerH)
			m.chatVP.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.chatVP.Width = layout.ChatInnerW
			m.chatVP.Height = layout.ChatInnerH
		}
		m.input.SetWidth(layout.InputW)
		m.syncTranscript()
		return m, nil

	case tea.KeyMsg:
		if handled, cmd := m.handleKey(msg); handled {
			return m, cmd
		}

	case chatDoneMsg:
		m.opDone()
		m.syncTranscript()
		m.chatVP.GotoBottom()
		switch {
		case msg.err != nil:
			m.flash(msg.err.Error(), true)
		case !msg.res.Confirmed():
			m.flash("delivery failed, message kept locally", true)
		default:
			m.flash("Ready", false)
		}
		return m, nil

	case editDoneMsg:
		m.opDone()
		m.syncTranscript()
		switch {
		case msg.err != nil:
			m.flash(msg.err.Error(), true)
		case !msg.res.Confirmed():
			m.flash("edit kept locally, server did not confirm", true)
		default:
			m.flash("message updated", false)
		}
		return m, nil

	case continueDoneMsg:
		m.opDone()
		m.syncTranscript()
		m.chatVP.GotoBottom()
		switch {
		case msg.err != nil:
			m.flash(msg.err.Error(), true)
		case !msg.res.Confirmed():
			m.flash("continue failed, transcript unchanged", true)
		default:
			m.flash("Ready", false)
		}
		return m, nil

	case refreshDoneMsg:
		m.opDone()
		m.syncTranscript()
		if msg.err != nil {
			m.flash(fmt.Sprintf("refresh: %v", msg.err), true)
		} else {
			m.flash("refreshed", false)
		}
		return m, nil

	case directoryDoneMsg:
		m.opDone()
		m.syncTranscript()
		m.clampSelections()
		if msg.err != nil {
			m.flash(fmt.Sprintf("%s: %v", msg.action, msg.err), true)
		} else {
			m.flash(msg.action+" done", false)
		}
		return m, nil

	case knowledgeDoneMsg:
		m.opDone()
		m.clampSelections()
		switch {
		case msg.err != nil:
			m.flash(fmt.Sprintf("%s: %v", msg.action, msg.err), true)
		case msg.res.Declined:
			m.flash(fmt.Sprintf("%s declined: %s", msg.action, msg.res.Reason), true)
		default:
			m.flash(msg.action+" done", false)
		}
		return m, nil

	case uploadDoneMsg:
		m.opDone()
		m.clampSelections()
		if msg.err != nil {
			m.flash(fmt.Sprintf("upload: %v", msg.err), true)
		} else {
			m.flash(fmt.Sprintf("indexed %d chunks in %d sections", msg.res.Chunks, msg.res.Sections), false)
		}
		return m, nil

	case spinMsg:
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		if m.inflight > 0 {
			return m, m.spinTick()
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	// Keystrokes only reach the viewport when it has focus; wheel and
	// frame messages always do.
	if _, isKey := msg.(tea.KeyMsg); !isKey || m.focus == focusChat {
		m.chatVP, cmd = m.chatVP.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKey owns every binding. It reports false for keys that should
// fall through to the focused component.
func (m *MainModel) handleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	keys := m.help.keys

	switch {
	case key.Matches(msg, keys.Quit):
		return true, tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return true, nil

	case key.Matches(msg, keys.Escape):
		if m.showHelp {
			m.showHelp = false
			return true, nil
		}
		if m.mode != inputChat {
			m.exitModal()
			return true, nil
		}
		return true, nil

	case key.Matches(msg, keys.FocusNext):
		m.cycleFocus()
		return true, nil

	case key.Matches(msg, keys.TogglePane):
		if m.side == sideSessions {
			m.side = sideKnowledge
		} else {
			m.side = sideSessions
		}
		return true, nil

	case key.Matches(msg, keys.NewSession):
		return true, m.dispatchDirectory("new session", func(ctx context.Context) error {
			_, err := m.app.Sessions.Create(ctx)
			return err
		})

	case key.Matches(msg, keys.Refresh):
		return true, m.dispatchRefresh()

	case key.Matches(msg, keys.EditLast):
		m.beginEditLast()
		return true, nil

	case key.Matches(msg, keys.Continue):
		if m.app.Chat.Continuing() {
			m.flash("continue already in flight", true)
			return true, nil
		}
		m.opStart("Continuing…")
		return true, tea.Batch(m.continueCmd(), m.spinTick())

	case key.Matches(msg, keys.Enter):
		switch m.focus {
		case focusSide:
			return true, m.sideEnter()
		case focusChat:
			return true, nil
		default:
			return true, m.onEnter()
		}
	}

	switch msg.Type {
	case tea.KeyUp:
		switch m.focus {
		case focusChat:
			m.chatVP.LineUp(1)
		case focusSide:
			m.moveSelection(-1)
		default:
			m.recallPrev()
		}
		return true, nil
	case tea.KeyDown:
		switch m.focus {
		case focusChat:
			m.chatVP.LineDown(1)
		case focusSide:
			m.moveSelection(1)
		default:
			m.recallNext()
		}
		return true, nil
	case tea.KeyPgUp:
		m.chatVP.ViewUp()
		return true, nil
	case tea.KeyPgDown:
		m.chatVP.ViewDown()
		return true, nil
	}

	if m.focus == focusSide {
		return true, m.sideKey(msg.String())
	}
	return false, nil
}

// sideKey handles single-letter actions while the side pane is focused.
func (m *MainModel) sideKey(k string) tea.Cmd {
	if m.side == sideSessions {
		switch k {
		case "n":
			return m.dispatchDirectory("new session", func(ctx context.Context) error {
				_, err := m.app.Sessions.Create(ctx)
				return err
			})
		case "r":
			sess, ok := m.selectedSession()
			if !ok {
				return nil
			}
			m.enterModal(inputRename, "New name for "+sess.DisplayName(), sess.Name)
			return nil
		case "d":
			sess, ok := m.selectedSession()
			if !ok {
				return nil
			}
			id := sess.ID
			return m.dispatchDirectory("delete session", func(ctx context.Context) error {
				return m.app.Sessions.Remove(ctx, id)
			})
		}
		return nil
	}

	switch k {
	case "a":
		m.enterModal(inputAddFact, "New fact to remember", "")
		return nil
	case "e":
		entry, ok := m.selectedKnowledge()
		if !ok || entry.isDoc {
			m.flash("select a fact to edit", true)
			return nil
		}
		m.factTarget = entry.text
		m.enterModal(inputEditFact, "Replacement for the selected fact", entry.text)
		return nil
	case "d":
		entry, ok := m.selectedKnowledge()
		if !ok {
			return nil
		}
		if entry.isDoc {
			file := entry.text
			return m.dispatchKnowledge("forget document", func(ctx context.Context) (app.OpResult, error) {
				return m.app.Knowledge.DeleteDocument(ctx, file)
			})
		}
		text := entry.text
		return m.dispatchKnowledge("forget fact", func(ctx context.Context) (app.OpResult, error) {
			return m.app.Knowledge.DeleteFact(ctx, text)
		})
	case "u":
		m.enterModal(inputUpload, "Path of the file to upload", "")
		return nil
	}
	return nil
}

// sideEnter activates the selected row: switching sessions, or opening
// the fact editor in the knowledge view.
func (m *MainModel) sideEnter() tea.Cmd {
	if m.side == sideSessions {
		sess, ok := m.selectedSession()
		if !ok {
			return nil
		}
		id := sess.ID
		return m.dispatchDirectory("switch session", func(ctx context.Context) error {
			return m.app.Sessions.SwitchTo(ctx, id)
		})
	}
	return m.sideKey("e")
}

func (m *MainModel) onEnter() tea.Cmd {
	val := strings.TrimSpace(m.input.Value())

	switch m.mode {
	case inputRename:
		sess, ok := m.selectedSession()
		m.exitModal()
		if !ok {
			return nil
		}
		// Name validation lives here, not in the store.
		if val == "" {
			m.flash("session name cannot be empty", true)
			return nil
		}
		id := sess.ID
		return m.dispatchDirectory("rename", func(ctx context.Context) error {
			return m.app.Sessions.Rename(ctx, id, val)
		})

	case inputAddFact:
		m.exitModal()
		if val == "" {
			return nil
		}
		return m.dispatchKnowledge("remember", func(ctx context.Context) (app.OpResult, error) {
			return m.app.Knowledge.AddFact(ctx, val)
		})

	case inputEditFact:
		oldText := m.factTarget
		m.exitModal()
		if val == "" || oldText == "" {
			return nil
		}
		return m.dispatchKnowledge("rewrite fact", func(ctx context.Context) (app.OpResult, error) {
			return m.app.Knowledge.EditFact(ctx, oldText, val)
		})

	case inputUpload:
		m.exitModal()
		if val == "" {
			return nil
		}
		return m.dispatchUpload(val)

	case inputEditMessage:
		target := m.editTarget
		m.exitModal()
		if val == "" || !target.Valid() {
			return nil
		}
		if m.app.Chat.Editing() {
			m.flash("edit already in flight", true)
			return nil
		}
		m.opStart("Updating message…")
		return tea.Batch(m.editCmd(target, val), m.spinTick())
	}

	// Plain chat send.
	if val == "" {
		return nil
	}
	if m.app.Chat.Sending() {
		m.flash("send already in flight", true)
		return nil
	}

	_ = m.app.State.AppendPrompt(val)
	m.resetRecall()
	m.input.Reset()
	m.opStart("Sending…")
	return tea.Batch(m.sendCmd(val), m.spinTick())
}

// beginEditLast prefills the input with the newest delivered user turn.
// Pending turns have no server id yet and cannot be edited.
func (m *MainModel) beginEditLast() {
	transcript := m.app.Sessions.Transcript()
	for i := len(transcript) - 1; i >= 0; i-- {
		msg := transcript[i]
		if msg.Role != app.RoleUser {
			continue
		}
		if !msg.ID.Valid() {
			continue
		}
		m.editTarget = msg.ID
		m.enterModal(inputEditMessage, "Edit message", msg.Content)
		return
	}
	m.flash("no delivered message to edit yet", true)
}

func (m *MainModel) enterModal(mode inputMode, placeholder, prefill string) {
	m.mode = mode
	m.focus = focusInput
	m.input.Placeholder = placeholder
	m.input.SetValue(prefill)
	m.input.Focus()
	m.input.CursorEnd()
}

func (m *MainModel) exitModal() {
	m.mode = inputChat
	m.editTarget = rpc.ID{}
	m.factTarget = ""
	m.input.Placeholder = "Message, then Enter. Tab switches focus."
	m.input.Reset()
}

func (m *MainModel) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.app.Chat.Send(context.Background(), content)
		return chatDoneMsg{res: res, err: err}
	}
}

func (m *MainModel) editCmd(id rpc.ID, content string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.app.Chat.Edit(context.Background(), id, content)
		return editDoneMsg{res: res, err: err}
	}
}

func (m *MainModel) continueCmd() tea.Cmd {
	return func() tea.Msg {
		res, err := m.app.Chat.Continue(context.Background())
		return continueDoneMsg{res: res, err: err}
	}
}

func (m *MainModel) dispatchRefresh() tea.Cmd {
	m.opStart("Refreshing…")
	side := m.side
	return tea.Batch(func() tea.Msg {
		ctx := context.Background()
		err := m.app.Chat.Refresh(ctx)
		if side == sideSessions {
			if lerr := m.app.Sessions.ListAll(ctx); err == nil {
				err = lerr
			}
		} else {
			m.app.Knowledge.RefreshAll(ctx)
		}
		return refreshDoneMsg{err: err}
	}, m.spinTick())
}

func (m *MainModel) dispatchDirectory(action string, op func(context.Context) error) tea.Cmd {
	m.opStart(action + "…")
	return tea.Batch(func() tea.Msg {
		return directoryDoneMsg{action: action, err: op(context.Background())}
	}, m.spinTick())
}

func (m *MainModel) dispatchKnowledge(action string, op func(context.Context) (app.OpResult, error)) tea.Cmd {
	m.opStart(action + "…")
	return tea.Batch(func() tea.Msg {
		res, err := op(context.Background())
		return knowledgeDoneMsg{action: action, res: res, err: err}
	}, m.spinTick())
}

func (m *MainModel) dispatchUpload(path string) tea.Cmd {
	if m.app.Knowledge.DocBusy() {
		m.flash("document operation already in flight", true)
		return nil
	}
	m.opStart("Uploading…")
	return tea.Batch(func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return uploadDoneMsg{err: err}
		}
		defer f.Close()
		res, err := m.app.Knowledge.UploadDocument(context.Background(), filepath.Base(path), f)
		return uploadDoneMsg{res: res, err: err}
	}, m.spinTick())
}

func (m *MainModel) opStart(status string) {
	m.inflight++
	m.statusText = status
	m.statusErr = false
	m.spinnerPos = 0
}

func (m *MainModel) opDone() {
	if m.inflight > 0 {
		m.inflight--
	}
}

func (m *MainModel) flash(text string, isErr bool) {
	m.statusText = text
	m.statusErr = isErr
}

func (m *MainModel) spinTick() tea.Cmd {
	d := 90 * time.Millisecond
	if os.Getenv("LOOM_REDUCE_MOTION") == "1" {
		d = 250 * time.Millisecond
	}
	return tea.Tick(d, func(_ time.Time) tea.Msg { return spinMsg{} })
}

func (m *MainModel) cycleFocus() {
	switch m.focus {
	case focusInput:
		m.focus = focusChat
	case focusChat:
		m.focus = focusSide
	default:
		m.focus = focusInput
	}
	if m.focus == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// Prompt history recall: up walks older prompts, down walks back to the
// draft that was being typed.
func (m *MainModel) recallPrev() {
	if m.mode != inputChat {
		return
	}
	if m.histItems == nil {
		items, err := m.app.State.RecentPrompts(50)
		if err != nil || len(items) == 0 {
			return
		}
		m.histItems = items
		m.histPos = -1
		m.histDraft = m.input.Value()
	}
	if m.histPos+1 >= len(m.histItems) {
		return
	}
	m.histPos++
	m.input.SetValue(m.histItems[m.histPos])
	m.input.CursorEnd()
}

func (m *MainModel) recallNext() {
	if m.histItems == nil || m.histPos < 0 {
		return
	}
	m.histPos--
	if m.histPos < 0 {
		m.input.SetValue(m.histDraft)
	} else {
		m.input.SetValue(m.histItems[m.histPos])
	}
	m.input.CursorEnd()
}

func (m *MainModel) resetRecall() {
	m.histItems = nil
	m.histPos = -1
	m.histDraft = ""
}

func (m *MainModel) moveSelection(delta int) {
	if m.side == sideSessions {
		n := len(m.app.Sessions.Directory())
		m.sessionSel = clampInt(m.sessionSel+delta, 0, n-1)
		return
	}
	n := len(m.knowledgeEntries())
	m.knowSel = clampInt(m.knowSel+delta, 0, n-1)
}

func (m *MainModel) clampSelections() {
	m.sessionSel = clampInt(m.sessionSel, 0, len(m.app.Sessions.Directory())-1)
	m.knowSel = clampInt(m.knowSel, 0, len(m.knowledgeEntries())-1)
}

func (m *MainModel) selectedSession() (app.Session, bool) {
	dir := m.app.Sessions.Directory()
	if len(dir) == 0 || m.sessionSel < 0 || m.sessionSel >= len(dir) {
		return app.Session{}, false
	}
	return dir[m.sessionSel], true
}

// knowledgeEntries flattens facts then documents into the selectable
// row list the knowledge pane shows.
func (m *MainModel) knowledgeEntries() []knowledgeEntry {
	var entries []knowledgeEntry
	for _, fact := range m.app.Knowledge.Facts() {
		entries = append(entries, knowledgeEntry{text: fact})
	}
	for _, file := range m.app.Knowledge.Documents().SourceFiles() {
		entries = append(entries, knowledgeEntry{isDoc: true, text: file})
	}
	return entries
}

func (m *MainModel) selectedKnowledge() (knowledgeEntry, bool) {
	entries := m.knowledgeEntries()
	if len(entries) == 0 || m.knowSel < 0 || m.knowSel >= len(entries) {
		return knowledgeEntry{}, false
	}
	return entries[m.knowSel], true
}

// syncTranscript rebuilds the chat viewport from the store snapshot.
func (m *MainModel) syncTranscript() {
	if !m.ready {
		return
	}
	var b strings.Builder
	chatWidth := m.computeLayout().ChatInnerW
	if chatWidth < 20 {
		chatWidth = 20
	}
	transcript := m.app.Sessions.Transcript()
	if len(transcript) == 0 {
		b.WriteString(m.theme.ListDim.Render("No messages yet. Say something."))
	}
	for _, msg := range transcript {
		b.WriteString(m.renderMessage(msg, chatWidth))
		b.WriteString("\n\n")
	}
	m.chatVP.SetContent(strings.TrimRight(b.String(), "\n"))
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
