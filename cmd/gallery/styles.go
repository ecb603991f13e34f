package main

import "github.com/charmbracelet/lipgloss"

var (
	primary  = lipgloss.Color("#7D56F4") // Vibrant Purple
	success  = lipgloss.Color("#00C853") // Emerald Green
	warning  = lipgloss.Color("#FFD600") // Neon Gold
	errorCol = lipgloss.Color("#FF1744") // Radical Red
	text     = lipgloss.Color("#C0CAF5")
	muted    = lipgloss.Color("#565F89")

	headerStyle = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true)

	infoKeyStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(12)

	infoValueStyle = lipgloss.NewStyle().
			Foreground(text).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(muted)

	successStyle = lipgloss.NewStyle().
			Foreground(success)

	warningStyle = lipgloss.NewStyle().
			Foreground(warning)

	errorTextStyle = lipgloss.NewStyle().
			Foreground(errorCol)

	idStyle = lipgloss.NewStyle().
		Foreground(muted).
		Width(38)

	nameStyle = lipgloss.NewStyle().
			Foreground(text).
			Width(28)
)
