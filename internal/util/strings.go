// Package util provides shared utility functions used across the codebase.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis is appended to values cut short by Fit and Truncate.
const Ellipsis = "…"

// Truncate shortens s to at most width visible columns, ending in Ellipsis
// when anything was cut. Escape sequences are kept and do not count toward
// the width.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, Ellipsis)
}

// Fit truncates s to width and pads it with spaces to exactly width
// visible columns, for aligned table cells.
func Fit(s string, width int) string {
	s = Truncate(s, width)
	if pad := width - lipgloss.Width(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}
