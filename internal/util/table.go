package util

import (
	"fmt"
	"strings"
)

// TableColumn describes one column of a rendered table. Width is computed
// from the header and the column's values.
type TableColumn struct {
	Header string
	Key    string
	Width  int
}

// RenderTable prints rows as aligned columns with a dashed separator under
// the header. Cell values may carry ANSI color codes; widths are computed on
// the visible text so colored cells stay aligned.
func RenderTable(columns []TableColumn, rows []map[string]string) {
	if len(rows) == 0 {
		fmt.Println("No data to display")
		return
	}

	for i := range columns {
		columns[i].Width = visibleWidth(columns[i].Header)
		for _, row := range rows {
			if w := visibleWidth(row[columns[i].Key]); w > columns[i].Width {
				columns[i].Width = w
			}
		}
	}

	cells := make([]string, len(columns))
	for i, col := range columns {
		cells[i] = padCell(col.Header, col.Width)
	}
	fmt.Println(strings.Join(cells, "  "))

	for i, col := range columns {
		cells[i] = strings.Repeat("-", col.Width)
	}
	fmt.Println(strings.Join(cells, "  "))

	for _, row := range rows {
		for i, col := range columns {
			cells[i] = padCell(row[col.Key], col.Width)
		}
		fmt.Println(strings.Join(cells, "  "))
	}
}

// stripANSI removes SGR escape sequences so width math sees the visible text.
func stripANSI(s string) string {
	for {
		start := strings.Index(s, "\033[")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "m")
		if end == -1 {
			return s
		}
		s = s[:start] + s[start+end+1:]
	}
}

func visibleWidth(s string) int {
	return len([]rune(stripANSI(s)))
}

func padCell(s string, width int) string {
	if w := visibleWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
