package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hal9000-dev/hal9000/internal/util"
)

// maxColumnWidth caps a column so one long worktree path cannot push the
// rest of the table off screen.
const maxColumnWidth = 48

// table renders rows as left-aligned columns separated by two spaces.
// Cells may carry lipgloss styling.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths() []int {
	w := make([]int, len(t.headers))
	for i, h := range t.headers {
		w[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(w) {
				w[i] = max(w[i], lipgloss.Width(cell))
			}
		}
	}
	for i := range w {
		w[i] = min(w[i], maxColumnWidth)
	}
	return w
}

func (t *table) render(out io.Writer) {
	w := t.widths()
	line := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(w))
		for i := range w {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if style != nil {
				cell = style.Render(cell)
			}
			if i == len(w)-1 {
				parts[i] = util.Truncate(cell, w[i])
			} else {
				parts[i] = util.Fit(cell, w[i])
			}
		}
		fmt.Fprintln(out, strings.Join(parts, "  "))
	}
	line(t.headers, &headerStyle)
	for _, row := range t.rows {
		line(row, nil)
	}
}
