package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorBrand = lipgloss.Color("#0E9F6E")
	colorText  = lipgloss.Color("#FAFAFA")
	colorGood  = lipgloss.Color("#04B575")
	colorWarn  = lipgloss.Color("#E5C07B")
	colorBad   = lipgloss.Color("#FF5F56")
	colorMuted = lipgloss.Color("241")
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(colorMuted)
	infoStyle   = lipgloss.NewStyle().Foreground(colorGood)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	errStyle    = lipgloss.NewStyle().Foreground(colorBad)
	totalStyle  = infoStyle.Bold(true)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorBrand).
			Padding(0, 1).
			Bold(true)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBrand).
			Padding(0, 1)
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Underline(true).
				Padding(0, 1)
)
