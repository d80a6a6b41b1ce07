package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles used for text output. Colors are
// stripped automatically when the writer is not a color terminal.
type Styles struct {
	Header  lipgloss.Style
	Key     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles builds styles for w.
func NewStyles(w io.Writer) *Styles {
	lr := lipgloss.NewRenderer(w)
	return &Styles{
		Header:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Key:     lr.NewStyle().Bold(true),
		Success: lr.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lr.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Info:    lr.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:   lr.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// StatusStyle picks the style for a run status.
func (s *Styles) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return s.Success
	case "failed":
		return s.Error
	case "running":
		return s.Info
	default:
		return s.Muted
	}
}
