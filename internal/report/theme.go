// Package report renders build results for the terminal and as JSON.
package report

import "github.com/charmbracelet/lipgloss"

// Theme centralizes the styling of every report.
type Theme struct {
	StatusCompiled   lipgloss.Style
	StatusCurrent    lipgloss.Style
	StatusFailed     lipgloss.Style
	StatusNotStarted lipgloss.Style

	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		StatusCompiled:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusCurrent:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		StatusNotStarted: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// PlainTheme renders without any escape sequences.
func PlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		StatusCompiled:   plain,
		StatusCurrent:    plain,
		StatusFailed:     plain,
		StatusNotStarted: plain,
		Title:            plain,
		Header:           plain,
		Dim:              plain,
		Highlight:        plain,
	}
}

func (t Theme) status(s string) lipgloss.Style {
	switch s {
	case "compiled", "succeeded":
		return t.StatusCompiled
	case "current":
		return t.StatusCurrent
	case "failed":
		return t.StatusFailed
	default:
		return t.StatusNotStarted
	}
}
