package shelterqlctl

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

func renderTable(w io.Writer, header []string, rows [][]any) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(header))
	for i, column := range header {
		headerRow[i] = column
	}
	t.AppendHeader(headerRow)
	for _, row := range rows {
		t.AppendRow(table.Row(displayRow(row)))
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func displayRow(row []any) []any {
	out := make([]any, len(row))
	for i, value := range row {
		if value == nil {
			out[i] = "NULL"
			continue
		}
		out[i] = value
	}
	return out
}

// renderKeyValues prints a two-column property table.
func renderKeyValues(w io.Writer, pairs [][2]any) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	for _, pair := range pairs {
		t.AppendRow(table.Row{pair[0], pair[1]})
	}
	t.Render()
}
