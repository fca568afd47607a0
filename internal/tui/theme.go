package tui

import "github.com/charmbracelet/lipgloss"

var (
	base     = lipgloss.Color("#1e1e2e")
	surface1 = lipgloss.Color("#45475a")
	text     = lipgloss.Color("#cdd6f4")
	subtext  = lipgloss.Color("#a6adc8")
	lavender = lipgloss.Color("#b4befe")
	sapphire = lipgloss.Color("#74c7ec")
	green    = lipgloss.Color("#a6e3a1")
	peach    = lipgloss.Color("#fab387")
	red      = lipgloss.Color("#f38ba8")

	appStyle = lipgloss.NewStyle().
			Foreground(text).
			Padding(1, 2)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(surface1).
			Padding(1, 3)

	notificationStyle = paneStyle.BorderForeground(lavender)

	titleStyle    = lipgloss.NewStyle().Foreground(sapphire).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(subtext)
	hotStyle      = lipgloss.NewStyle().Foreground(peach).Bold(true)
	goodStyle     = lipgloss.NewStyle().Foreground(green).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(red)
	clockStyle    = lipgloss.NewStyle().Foreground(text).Background(base).Bold(true).Padding(0, 2)
	barFullStyle  = lipgloss.NewStyle().Foreground(lavender)
	barEmptyStyle = lipgloss.NewStyle().Foreground(surface1)
)
