// Package formatter renders the CLI's tabular output. The list command is
// its only consumer; it stays deliberately small — aligned columns, bounded
// cell widths, no color.
package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Table accumulates rows and renders them as tab-aligned columns with a
// header and dashed separator.
type Table struct {
	headers   []string
	rows      [][]string
	maxWidths []int // per-column cap; 0 = unlimited
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers:   headers,
		maxWidths: make([]int, len(headers)),
	}
}

// SetMaxWidth caps the display width of column col (0-indexed). Longer
// values are truncated with a trailing ellipsis at render time.
func (t *Table) SetMaxWidth(col, width int) *Table {
	if col >= 0 && col < len(t.maxWidths) {
		t.maxWidths[col] = width
	}
	return t
}

// AddRow appends a data row. Extra values beyond the header count are
// dropped; missing values render as empty cells.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		}
	}
	t.rows = append(t.rows, row)
}

// Render writes the whole table to w.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	seps := make([]string, len(t.headers))
	for i, h := range t.headers {
		seps[i] = strings.Repeat("-", len(h))
	}
	if _, err := fmt.Fprintln(tw, strings.Join(t.headers, "\t")); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(tw, strings.Join(seps, "\t")); err != nil {
		return err
	}

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = t.clip(i, cell)
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func (t *Table) clip(col int, s string) string {
	max := t.maxWidths[col]
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

// Timestamp renders a record timestamp for table display, in local time
// without sub-second noise. A zero time renders as "-".
func Timestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
