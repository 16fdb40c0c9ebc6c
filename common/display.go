// Package common provides config loading, logging setup and terminal
// display helpers shared by the zpoolmon commands.
package common

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Default colors for display styles
	PrimaryColor    = lipgloss.Color("#7D56F4") // Purple
	SuccessColor    = lipgloss.Color("#00FF00") // Bright Green
	WarningColor    = lipgloss.Color("#F5B041") // Yellow
	ErrorColor      = lipgloss.Color("#FF0000") // Bright Red
	NormalTextColor = lipgloss.Color("#FFFFFF") // White
)

// DisplayBox creates a nice looking box around content
func DisplayBox(title string, content string) string {
	boxStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Padding(0).
		Width(80)

	titleStyle := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		PaddingLeft(2)

	output := titleStyle.Render(title) + "\n\n" + content

	return boxStyle.Render(output)
}

// SectionTitle formats a section title
func SectionTitle(title string) string {
	sectionStyle := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		PaddingLeft(2)

	return sectionStyle.Render(title)
}

// SimpleStatusListItem formats a status list item with a simple "is" format.
// Example: "• PoolName is ONLINE"
func SimpleStatusListItem(label string, state string, isSuccess bool) string {
	statusStyle := lipgloss.NewStyle().Foreground(SuccessColor)
	if !isSuccess {
		statusStyle = lipgloss.NewStyle().Foreground(ErrorColor)
	}

	contentStyle := lipgloss.NewStyle().
		Align(lipgloss.Left).
		PaddingLeft(8)

	itemStyle := lipgloss.NewStyle().
		Foreground(NormalTextColor)

	line := fmt.Sprintf("•  %-20s is %s",
		label,
		statusStyle.Render(state))

	return contentStyle.Render(itemStyle.Render(line))
}

// SeverityText colors a severity string for terminal output.
func SeverityText(severity string) string {
	var color lipgloss.Color

	switch severity {
	case "CRITICAL":
		color = ErrorColor
	case "WARNING":
		color = WarningColor
	default:
		color = SuccessColor
	}

	return lipgloss.NewStyle().Foreground(color).Render(severity)
}
