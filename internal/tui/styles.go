package tui

import "github.com/charmbracelet/lipgloss"

// Styles is the terminal color palette, Catppuccin Mocha.
type Styles struct {
	Title     lipgloss.Style
	Subtle    lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	StepDone  lipgloss.Style
	StepFail  lipgloss.Style
	StepRun   lipgloss.Style
	StepIdle  lipgloss.Style
	OutputBox lipgloss.Style
	Help      lipgloss.Style
}

// DefaultStyles builds the default palette.
func DefaultStyles() Styles {
	var (
		green  = lipgloss.Color("#a6e3a1")
		yellow = lipgloss.Color("#f9e2af")
		red    = lipgloss.Color("#f38ba8")
		blue   = lipgloss.Color("#89b4fa")
		mauve  = lipgloss.Color("#cba6f7")
		subtle = lipgloss.Color("#6c7086")
	)

	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(mauve),
		Subtle:   lipgloss.NewStyle().Foreground(subtle),
		Success:  lipgloss.NewStyle().Foreground(green),
		Warning:  lipgloss.NewStyle().Foreground(yellow),
		Error:    lipgloss.NewStyle().Foreground(red),
		Info:     lipgloss.NewStyle().Foreground(blue),
		StepDone: lipgloss.NewStyle().Foreground(green),
		StepFail: lipgloss.NewStyle().Foreground(red),
		StepRun:  lipgloss.NewStyle().Foreground(blue).Bold(true),
		StepIdle: lipgloss.NewStyle().Foreground(subtle),
		OutputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle).
			Padding(0, 1),
		Help: lipgloss.NewStyle().Foreground(subtle).Italic(true),
	}
}
