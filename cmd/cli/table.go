package main

import (
	"fmt"
	"io"
	"strings"
)

// table renders query results as an ASCII grid. Column widths grow as
// rows are added.
type table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	widths  []int
}

func newTable(w io.Writer) *table {
	return &table{w: w}
}

func (t *table) header(headers []string) {
	t.headers = headers
	t.grow(headers)
}

func (t *table) row(cells []string) {
	t.rows = append(t.rows, cells)
	t.grow(cells)
}

// grow widens column widths to fit the given cells
func (t *table) grow(cells []string) {
	for len(t.widths) < len(cells) {
		t.widths = append(t.widths, 1)
	}
	for i, cell := range cells {
		if len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
}

func (t *table) render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}

	separator := t.separator()

	fmt.Fprintln(t.w, separator)

	if len(t.headers) > 0 {
		fmt.Fprintln(t.w, t.formatRow(t.headers))
		fmt.Fprintln(t.w, separator)
	}

	for _, row := range t.rows {
		fmt.Fprintln(t.w, t.formatRow(row))
	}

	fmt.Fprintln(t.w, separator)
}

func (t *table) separator() string {
	parts := make([]string, len(t.widths))
	for i, w := range t.widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

func (t *table) formatRow(row []string) string {
	parts := make([]string, len(t.widths))
	for i, w := range t.widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		parts[i] = " " + cell + strings.Repeat(" ", w-len(cell)+1)
	}
	return "|" + strings.Join(parts, "|") + "|"
}
