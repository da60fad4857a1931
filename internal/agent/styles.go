package agent

import "github.com/charmbracelet/lipgloss"

// Styles renders loop output
type Styles struct {
	Prompt  lipgloss.Style
	Confirm lipgloss.Style
	Result  lipgloss.Style
	Error   lipgloss.Style
	Notice  lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the terminal palette
func DefaultStyles() Styles {
	return Styles{
		Prompt:  lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")).Bold(true),
		Confirm: lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true),
		Result:  lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")),
		Notice:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Italic(true),
	}
}

// PlainStyles renders without escape codes
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Prompt:  plain,
		Confirm: plain,
		Result:  plain,
		Error:   plain,
		Notice:  plain,
		Muted:   plain,
	}
}
