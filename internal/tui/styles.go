package tui

import "github.com/charmbracelet/lipgloss"

// Theme holds the colors the dashboard draws with.
type Theme struct {
	Primary lipgloss.Color
	Text    lipgloss.Color
	Subtext lipgloss.Color
	Overlay lipgloss.Color
	Border  lipgloss.Color

	Green  lipgloss.Color
	Yellow lipgloss.Color
	Blue   lipgloss.Color
	Red    lipgloss.Color
	Pink   lipgloss.Color
}

// DefaultTheme is a muted dark palette that reads on both dark and light
// terminal backgrounds.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("#89b4fa"),
		Text:    lipgloss.Color("#cdd6f4"),
		Subtext: lipgloss.Color("#a6adc8"),
		Overlay: lipgloss.Color("#6c7086"),
		Border:  lipgloss.Color("#45475a"),
		Green:   lipgloss.Color("#a6e3a1"),
		Yellow:  lipgloss.Color("#f9e2af"),
		Blue:    lipgloss.Color("#74c7ec"),
		Red:     lipgloss.Color("#f38ba8"),
		Pink:    lipgloss.Color("#f5c2e7"),
	}
}

// statusGlyph returns the colored indicator for an agent status.
func (t Theme) statusGlyph(status string) string {
	switch status {
	case "working":
		return lipgloss.NewStyle().Foreground(t.Green).Render("●")
	case "waiting":
		return lipgloss.NewStyle().Foreground(t.Yellow).Render("◐")
	case "idle":
		return lipgloss.NewStyle().Foreground(t.Blue).Render("○")
	default:
		return lipgloss.NewStyle().Foreground(t.Overlay).Render("·")
	}
}
