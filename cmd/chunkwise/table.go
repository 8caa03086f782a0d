package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

type tableColumn struct {
	Header string
	Align  columnAlignment
	// MaxWidth wraps longer cells; zero leaves the column unbounded.
	MaxWidth int
}

// renderTable draws rows under columns. A non-empty footer is rendered as a
// single summary row spanning the table.
func renderTable(columns []tableColumn, rows [][]string, footer string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	style := table.StyleRounded
	// Keep headers and footers as written; the rounded style upper-cases them.
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	tw.SetStyle(style)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.Header
		align := text.AlignLeft
		if col.Align == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    col.MaxWidth,
		}
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	if footer != "" {
		f := make(table.Row, len(columns))
		for i := range f {
			f[i] = footer
		}
		tw.AppendFooter(f, table.RowConfig{AutoMerge: true})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
