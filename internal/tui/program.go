package tui

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
)

// Run owns the terminal until the user quits. Store snapshots and toast
// changes are pushed into the program; nothing inside the model polls.
func Run(store *state.Store, logs *logring.Ring, toasts *logring.Toaster, panes PaneOps, merger Merger, analysis Suspender) error {
	lipgloss.SetColorProfile(termenv.ColorProfile())

	model := NewModel(store.Snapshot(), logs, toasts, panes, merger, analysis)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		model.width, model.height = w, h
	}
	program := tea.NewProgram(model, tea.WithAltScreen())

	unsubscribe := store.Subscribe(func(snap state.Snapshot) {
		program.Send(SnapshotMsg(snap))
	})
	defer unsubscribe()
	if toasts != nil {
		toasts.OnChange(func() {
			program.Send(ToastsChangedMsg{})
		})
	}

	_, err := program.Run()
	return err
}
