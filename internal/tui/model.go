// Package tui is the control-pane dashboard: the pane list, the toast line
// and the dialog overlays that drive interactive action flows.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/lifecycle"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
)

// PaneOps is the lifecycle surface the dashboard dispatches to.
type PaneOps interface {
	Create(ctx context.Context, opts lifecycle.CreateOptions) (lifecycle.CreateResult, error)
	ClosePane(paneID string) action.Result
	Rename(paneID string) action.Result
	Duplicate(ctx context.Context, paneID string) action.Result
	OpenInEditor(paneID string) action.Result
	CopyPath(paneID string) action.Result
	ToggleAutopilot(paneID string) action.Result
	FocusPane(paneID string) action.Result
}

// Merger starts merge flows.
type Merger interface {
	Merge(ctx context.Context, paneID, target string) action.Result
}

// Suspender pauses background pane analysis while a dialog holds the screen,
// so half-typed answers don't get analysed as agent output.
type Suspender interface {
	Pause()
	Resume()
}

// SnapshotMsg delivers a fresh store snapshot to the running program.
type SnapshotMsg state.Snapshot

// ToastsChangedMsg tells the program to repaint the toast line.
type ToastsChangedMsg struct{}

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Focus     key.Binding
	New       key.Binding
	Close     key.Binding
	Rename    key.Binding
	Duplicate key.Binding
	Merge     key.Binding
	Editor    key.Binding
	CopyPath  key.Binding
	Autopilot key.Binding
	Quit      key.Binding
}

var dashboardKeys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Focus: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "view"),
	),
	New: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "new agent"),
	),
	Close: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "close"),
	),
	Rename: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "rename"),
	),
	Duplicate: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "duplicate"),
	),
	Merge: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "merge"),
	),
	Editor: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "editor"),
	),
	CopyPath: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "copy path"),
	),
	Autopilot: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "autopilot"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Model is the dashboard.
type Model struct {
	snap     state.Snapshot
	logs     *logring.Ring
	toasts   *logring.Toaster
	panes    PaneOps
	merger   Merger
	analysis Suspender

	theme    Theme
	keys     keyMap
	cursor   int
	width    int
	height   int
	dlg      *dialog
	quitting bool
}

// NewModel builds the dashboard from an initial snapshot. Later snapshots
// arrive as SnapshotMsg via the running program.
func NewModel(snap state.Snapshot, logs *logring.Ring, toasts *logring.Toaster, panes PaneOps, merger Merger, analysis Suspender) Model {
	return Model{
		snap:     snap,
		logs:     logs,
		toasts:   toasts,
		panes:    panes,
		merger:   merger,
		analysis: analysis,
		theme:    DefaultTheme(),
		keys:     dashboardKeys,
		width:    80,
		height:   24,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.snap = state.Snapshot(msg)
		if m.cursor >= len(m.snap.Panes) {
			m.cursor = len(m.snap.Panes) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil

	case ToastsChangedMsg:
		return m, nil

	case resolvedMsg:
		m.applyResult(msg.res)
		return m, nil

	case tea.KeyMsg:
		if m.dlg != nil {
			done, cmd := m.dlg.update(msg)
			if done {
				m.setDialog(nil)
			}
			return m, cmd
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.snap.Panes)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.New):
		m.applyResult(m.newAgentInput())
		return m, nil
	}

	pane, ok := m.selectedPane()
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Focus):
		return m, resolve(func() action.Result { return m.panes.FocusPane(pane.ID) })
	case key.Matches(msg, m.keys.Close):
		return m, resolve(func() action.Result { return m.panes.ClosePane(pane.ID) })
	case key.Matches(msg, m.keys.Rename):
		return m, resolve(func() action.Result { return m.panes.Rename(pane.ID) })
	case key.Matches(msg, m.keys.Duplicate):
		return m, resolve(func() action.Result { return m.panes.Duplicate(context.Background(), pane.ID) })
	case key.Matches(msg, m.keys.Merge):
		if m.merger == nil || !pane.HasWorktree() {
			return m, nil
		}
		return m, resolve(func() action.Result { return m.merger.Merge(context.Background(), pane.ID, "") })
	case key.Matches(msg, m.keys.Editor):
		if !pane.HasWorktree() {
			return m, nil
		}
		return m, resolve(func() action.Result { return m.panes.OpenInEditor(pane.ID) })
	case key.Matches(msg, m.keys.CopyPath):
		if !pane.HasWorktree() {
			return m, nil
		}
		return m, resolve(func() action.Result { return m.panes.CopyPath(pane.ID) })
	case key.Matches(msg, m.keys.Autopilot):
		return m, resolve(func() action.Result { return m.panes.ToggleAutopilot(pane.ID) })
	}
	return m, nil
}

func (m Model) selectedPane() (state.Pane, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Panes) {
		return state.Pane{}, false
	}
	return m.snap.Panes[m.cursor], true
}

// applyResult opens, replaces or closes the dialog overlay for a result.
func (m *Model) applyResult(res action.Result) {
	switch res.Kind {
	case "", action.KindView, action.KindNavigation:
		// Terminal results with no dialog; navigation already happened
		// through tmux.
		m.setDialog(nil)
	default:
		m.setDialog(newDialog(res, m.theme))
	}
}

// setDialog swaps the overlay, suspending analysis while one is up.
func (m *Model) setDialog(d *dialog) {
	if m.analysis != nil {
		if m.dlg == nil && d != nil {
			m.analysis.Pause()
		}
		if m.dlg != nil && d == nil {
			m.analysis.Resume()
		}
	}
	m.dlg = d
}

// newAgentInput is the n-key flow: prompt text, then agent choice when more
// than one is installed.
func (m Model) newAgentInput() action.Result {
	return action.Input("New agent", "What should the agent work on?",
		"Describe the task", "", func(prompt string) action.Result {
			return m.createAgent(prompt, "")
		})
}

func (m Model) createAgent(prompt, agent string) action.Result {
	if strings.TrimSpace(prompt) == "" {
		return action.Error("a task description is required")
	}
	res, err := m.panes.Create(context.Background(), lifecycle.CreateOptions{
		Prompt: prompt,
		Agent:  agent,
	})
	if err != nil {
		return action.Errorf("creating agent: %v", err)
	}
	if res.NeedsAgentChoice {
		opts := make([]action.ChoiceOption, len(res.AvailableAgents))
		for i, a := range res.AvailableAgents {
			opts[i] = action.ChoiceOption{ID: string(a), Label: string(a)}
		}
		return action.Choice("Pick an agent", "", opts, func(id string) action.Result {
			return m.createAgent(prompt, id)
		})
	}
	return action.Success("started " + res.Pane.Slug)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header() + "\n\n")

	if m.dlg != nil {
		b.WriteString(m.dlg.view() + "\n")
	} else {
		b.WriteString(m.paneList())
	}

	b.WriteString("\n" + m.toastLine())
	b.WriteString("\n" + m.helpLine())
	return b.String()
}

func (m Model) header() string {
	t := m.theme
	title := lipgloss.NewStyle().Bold(true).Foreground(t.Primary).
		Render(" dmux · " + m.snap.ProjectName)

	var badge string
	if m.logs != nil {
		warns, errs := m.logs.UnreadCounts()
		switch {
		case errs > 0:
			badge = lipgloss.NewStyle().Foreground(t.Red).Bold(true).
				Render(fmt.Sprintf("  ! %d", errs))
		case warns > 0:
			badge = lipgloss.NewStyle().Foreground(t.Yellow).
				Render(fmt.Sprintf("  ! %d", warns))
		}
	}

	session := lipgloss.NewStyle().Foreground(t.Overlay).Render("  " + m.snap.SessionName)
	return title + badge + session
}

func (m Model) paneList() string {
	t := m.theme
	if len(m.snap.Panes) == 0 {
		empty := lipgloss.NewStyle().Foreground(t.Overlay).Italic(true)
		return empty.Render("  No agents yet — press n to start one") + "\n"
	}

	var b strings.Builder
	for i, pane := range m.snap.Panes {
		b.WriteString(m.paneRow(pane, i == m.cursor, i) + "\n")
	}
	return b.String()
}

func (m Model) paneRow(pane state.Pane, selected bool, idx int) string {
	t := m.theme
	var line strings.Builder

	if selected {
		line.WriteString(lipgloss.NewStyle().Foreground(t.Pink).Bold(true).Render("❯ "))
	} else {
		line.WriteString("  ")
	}
	if idx < 9 {
		line.WriteString(lipgloss.NewStyle().Foreground(t.Overlay).Render(fmt.Sprintf("%d ", idx+1)))
	} else {
		line.WriteString("  ")
	}

	line.WriteString(t.statusGlyph(string(pane.AgentStatus)) + " ")

	nameStyle := lipgloss.NewStyle().Foreground(t.Text)
	if selected {
		nameStyle = nameStyle.Bold(true).Foreground(t.Pink)
	}
	line.WriteString(nameStyle.Render(pane.Slug))

	if pane.Agent != "" {
		line.WriteString(lipgloss.NewStyle().Foreground(t.Subtext).Render(" " + string(pane.Agent)))
	}
	for _, badge := range m.paneBadges(pane) {
		line.WriteString(" " + badge)
	}

	if detail := paneDetail(pane); detail != "" {
		room := m.width - lipgloss.Width(line.String()) - 4
		if room > 8 {
			line.WriteString(lipgloss.NewStyle().Foreground(t.Overlay).
				Render("  " + runewidth.Truncate(detail, room, "…")))
		}
	}
	return line.String()
}

func (m Model) paneBadges(pane state.Pane) []string {
	t := m.theme
	var badges []string
	switch pane.TestStatus {
	case state.TestPassed:
		badges = append(badges, lipgloss.NewStyle().Foreground(t.Green).Render("✓ tests"))
	case state.TestFailed:
		badges = append(badges, lipgloss.NewStyle().Foreground(t.Red).Render("✗ tests"))
	case state.TestRunning:
		badges = append(badges, lipgloss.NewStyle().Foreground(t.Subtext).Render("… tests"))
	}
	if pane.DevStatus == state.DevRunning {
		badges = append(badges, lipgloss.NewStyle().Foreground(t.Blue).Render("dev"))
	}
	if pane.Autopilot {
		badges = append(badges, lipgloss.NewStyle().Foreground(t.Yellow).Render("auto"))
	}
	if pane.PRNumber > 0 {
		badges = append(badges, lipgloss.NewStyle().Foreground(t.Subtext).Render(fmt.Sprintf("#%d", pane.PRNumber)))
	}
	return badges
}

// paneDetail is the dim one-line context after the badges: the pending
// question while waiting, the last summary while idle.
func paneDetail(pane state.Pane) string {
	switch pane.AgentStatus {
	case state.StatusWaiting:
		return pane.OptionsQuestion
	case state.StatusIdle:
		return pane.AgentSummary
	}
	if pane.AnalyzerError != "" {
		return pane.AnalyzerError
	}
	return ""
}

func (m Model) toastLine() string {
	if m.toasts == nil {
		return ""
	}
	toast, ok := m.toasts.Current()
	if !ok {
		return ""
	}
	t := m.theme
	color := t.Subtext
	switch toast.Severity {
	case logring.LevelError:
		color = t.Red
	case logring.LevelWarn:
		color = t.Yellow
	}
	line := lipgloss.NewStyle().Foreground(color).Render("  " + toast.Message)
	if pending := m.toasts.Pending(); pending > 1 {
		line += lipgloss.NewStyle().Foreground(t.Overlay).Render(fmt.Sprintf(" (+%d)", pending-1))
	}
	return line
}

func (m Model) helpLine() string {
	t := m.theme
	keyStyle := lipgloss.NewStyle().Bold(true).Foreground(t.Primary)
	helpStyle := lipgloss.NewStyle().Foreground(t.Overlay)

	bindings := []key.Binding{
		m.keys.Up, m.keys.Down, m.keys.Focus, m.keys.New, m.keys.Close,
		m.keys.Rename, m.keys.Merge, m.keys.Autopilot, m.keys.Quit,
	}
	items := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		items = append(items, keyStyle.Render(h.Key)+" "+h.Desc)
	}
	return "  " + helpStyle.Render(strings.Join(items, " • "))
}
