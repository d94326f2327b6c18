package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/hal9000-dev/hal9000/internal/session"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	okColor      = lipgloss.Color("#10B981") // Green
	warnColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	okStyle     = lipgloss.NewStyle().Foreground(okColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
)

func statusStyle(s session.Status) lipgloss.Style {
	switch s {
	case session.StatusRunning:
		return okStyle
	case session.StatusStarting:
		return warnStyle
	case session.StatusOrphaned:
		return errorStyle
	default:
		return mutedStyle
	}
}

// printWarning writes a warning line to w. Empty warnings are ignored.
func printWarning(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", warnStyle.Render("!"), msg)
}
