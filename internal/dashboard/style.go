package dashboard

import "github.com/charmbracelet/lipgloss"

var (
	cyan    = lipgloss.Color("#00E5FF")
	magenta = lipgloss.Color("#FF1B6B")
	yellow  = lipgloss.Color("#FFB500")
	green   = lipgloss.Color("#2AFFAA")
	red     = lipgloss.Color("#FF5555")
	muted   = lipgloss.Color("#6C7280")
	text    = lipgloss.Color("#ECEFF4")
)

type styles struct {
	title    lipgloss.Style
	subtle   lipgloss.Style
	panel    lipgloss.Style
	label    lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	prompt   lipgloss.Style
	selected lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Foreground(cyan).
			Bold(true).
			Padding(0, 1),

		subtle: lipgloss.NewStyle().Foreground(muted),

		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),

		label:  lipgloss.NewStyle().Foreground(muted).Width(14),
		ok:     lipgloss.NewStyle().Foreground(green).Bold(true),
		warn:   lipgloss.NewStyle().Foreground(yellow).Bold(true),
		bad:    lipgloss.NewStyle().Foreground(red).Bold(true),
		prompt: lipgloss.NewStyle().Foreground(text).Background(magenta).Bold(true).Padding(0, 1),

		selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1B1D23")).
			Background(cyan).
			Bold(false),
	}
}
