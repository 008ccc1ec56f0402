package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dmux-sh/dmux/internal/action"
)

// dialog renders one action.Result as a modal overlay and routes keys to it.
// Interactive results carry their callbacks; resolving one yields the next
// Result in the flow, which replaces the dialog until a terminal result
// closes it.
type dialog struct {
	res    action.Result
	cursor int
	input  textinput.Model
	theme  Theme
}

func newDialog(res action.Result, theme Theme) *dialog {
	d := &dialog{res: res, theme: theme}
	if res.Kind == action.KindChoice {
		for i, opt := range res.Options {
			if opt.Default {
				d.cursor = i
				break
			}
		}
	}
	if res.Kind == action.KindInput {
		ti := textinput.New()
		ti.Placeholder = res.Placeholder
		ti.SetValue(res.DefaultValue)
		ti.CursorEnd()
		ti.Focus()
		d.input = ti
	}
	return d
}

// resolved wraps a callback invocation so slow operations (merge
// revalidation, agent creation) run off the update loop.
type resolvedMsg struct {
	res action.Result
}

func resolve(fn func() action.Result) tea.Cmd {
	return func() tea.Msg {
		return resolvedMsg{res: fn()}
	}
}

// update handles a key while the dialog is open. done reports that the
// dialog should close with no follow-up.
func (d *dialog) update(msg tea.KeyMsg) (done bool, cmd tea.Cmd) {
	switch d.res.Kind {
	case action.KindConfirm:
		switch msg.String() {
		case "y", "enter":
			if d.res.OnConfirm != nil {
				return false, resolve(d.res.OnConfirm)
			}
			return true, nil
		case "n", "esc":
			if d.res.OnCancel != nil {
				return false, resolve(d.res.OnCancel)
			}
			return true, nil
		}

	case action.KindChoice:
		switch msg.String() {
		case "up", "k":
			if d.cursor > 0 {
				d.cursor--
			}
		case "down", "j":
			if d.cursor < len(d.res.Options)-1 {
				d.cursor++
			}
		case "enter":
			return false, d.selectOption(d.cursor)
		case "esc":
			return true, nil
		default:
			// Quick select with numbers, like the pane list.
			if n := numberKey(msg); n > 0 && n <= len(d.res.Options) {
				return false, d.selectOption(n - 1)
			}
		}

	case action.KindInput:
		switch msg.String() {
		case "enter":
			if d.res.OnSubmit != nil {
				value := d.input.Value()
				submit := d.res.OnSubmit
				return false, resolve(func() action.Result { return submit(value) })
			}
			return true, nil
		case "esc":
			return true, nil
		default:
			var c tea.Cmd
			d.input, c = d.input.Update(msg)
			return false, c
		}

	case action.KindProgress:
		// Not dismissable; the flow replaces it when it finishes.

	default:
		switch msg.String() {
		case "enter", "esc", " ":
			return true, nil
		}
	}
	return false, nil
}

func (d *dialog) selectOption(idx int) tea.Cmd {
	if idx < 0 || idx >= len(d.res.Options) || d.res.OnSelect == nil {
		return nil
	}
	id := d.res.Options[idx].ID
	selectFn := d.res.OnSelect
	return resolve(func() action.Result { return selectFn(id) })
}

func numberKey(msg tea.KeyMsg) int {
	s := msg.String()
	if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
		return int(s[0] - '0')
	}
	return 0
}

const dialogWidth = 56

func (d *dialog) view() string {
	t := d.theme
	inner := dialogWidth - 4

	var b strings.Builder

	title := d.res.Title
	if title == "" {
		title = defaultTitle(d.res.Kind)
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(d.titleColor())
	b.WriteString(titleStyle.Render(title) + "\n")

	if d.res.Message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(t.Text)
		b.WriteString("\n" + msgStyle.Render(wordwrap.String(d.res.Message, inner)) + "\n")
	}

	switch d.res.Kind {
	case action.KindConfirm:
		b.WriteString("\n" + d.confirmFooter())
	case action.KindChoice:
		b.WriteString("\n" + d.choiceList(inner))
	case action.KindInput:
		b.WriteString("\n" + d.input.View() + "\n")
		b.WriteString(lipgloss.NewStyle().Foreground(t.Overlay).Render("enter submit • esc cancel"))
	case action.KindProgress:
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(t.Overlay).Italic(true).Render("working…"))
	default:
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(t.Overlay).Render("enter dismiss"))
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1).
		Width(dialogWidth)
	return box.Render(b.String())
}

func (d *dialog) confirmFooter() string {
	t := d.theme
	confirm := d.res.ConfirmLabel
	if confirm == "" {
		confirm = "Yes"
	}
	cancel := d.res.CancelLabel
	if cancel == "" {
		cancel = "No"
	}
	keyStyle := lipgloss.NewStyle().Bold(true).Foreground(t.Primary)
	helpStyle := lipgloss.NewStyle().Foreground(t.Overlay)
	return keyStyle.Render("y") + helpStyle.Render(" "+confirm+" • ") +
		keyStyle.Render("n") + helpStyle.Render(" "+cancel)
}

func (d *dialog) choiceList(width int) string {
	t := d.theme
	var b strings.Builder
	for i, opt := range d.res.Options {
		selected := i == d.cursor

		var line strings.Builder
		if selected {
			line.WriteString(lipgloss.NewStyle().Foreground(t.Pink).Bold(true).Render("❯ "))
		} else {
			line.WriteString("  ")
		}
		if i < 9 {
			line.WriteString(lipgloss.NewStyle().Foreground(t.Overlay).Render(fmt.Sprintf("%d ", i+1)))
		} else {
			line.WriteString("  ")
		}

		labelStyle := lipgloss.NewStyle().Foreground(t.Text)
		if opt.Danger {
			labelStyle = labelStyle.Foreground(t.Red)
		}
		if selected {
			labelStyle = labelStyle.Bold(true)
		}
		line.WriteString(labelStyle.Render(opt.Label))
		if opt.Description != "" {
			line.WriteString(lipgloss.NewStyle().Foreground(t.Subtext).Render("  " + opt.Description))
		}
		b.WriteString(wordwrap.String(line.String(), width) + "\n")
	}
	b.WriteString("\n" + lipgloss.NewStyle().Foreground(t.Overlay).Render("↑/↓ move • enter select • esc cancel"))
	return b.String()
}

func (d *dialog) titleColor() lipgloss.Color {
	switch d.res.Kind {
	case action.KindError:
		return d.theme.Red
	case action.KindSuccess:
		return d.theme.Green
	default:
		return d.theme.Primary
	}
}

func defaultTitle(kind action.Kind) string {
	switch kind {
	case action.KindError:
		return "Error"
	case action.KindSuccess:
		return "Done"
	case action.KindConfirm:
		return "Confirm"
	case action.KindInput:
		return "Input"
	case action.KindProgress:
		return "Working"
	default:
		return "dmux"
	}
}
