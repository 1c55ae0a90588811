package ui

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor   = lipgloss.Color("205")
	SecondaryColor = lipgloss.Color("240")
	SuccessColor   = lipgloss.Color("42")
	WarningColor   = lipgloss.Color("214")
	ErrorColor     = lipgloss.Color("#FF5555")

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Padding(0, 1)

	MessageAuthorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	MessageOwnAuthorStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	MessageTimeStyle      = lipgloss.NewStyle().Foreground(SecondaryColor)
	MessageContentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	MessagePendingStyle   = lipgloss.NewStyle().Foreground(SecondaryColor).Italic(true)
	SystemMessageStyle    = lipgloss.NewStyle().Foreground(WarningColor).Italic(true)

	UnreadBadgeStyle = lipgloss.NewStyle().
				Background(PrimaryColor).
				Foreground(lipgloss.Color("255")).
				Bold(true).
				Padding(0, 1)

	OnlineStyle  = lipgloss.NewStyle().Foreground(SuccessColor)
	OfflineStyle = lipgloss.NewStyle().Foreground(SecondaryColor)

	InputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(SecondaryColor)
)
