package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type tableColumn struct {
	title string
	right bool
}

func left(title string) tableColumn { return tableColumn{title: title} }
func right(title string) tableColumn { return tableColumn{title: title, right: true} }

// tableView accumulates rows for a rounded go-pretty table. Short rows are
// padded and long rows are cut to the column count.
type tableView struct {
	columns []tableColumn
	rows    []table.Row
	footer  string
}

func newTable(columns ...tableColumn) *tableView {
	return &tableView{columns: columns}
}

func (t *tableView) add(cells ...string) {
	row := make(table.Row, len(t.columns))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	t.rows = append(t.rows, row)
}

// withFooter sets a single caption row spanning the table.
func (t *tableView) withFooter(caption string) *tableView {
	t.footer = caption
	return t
}

func (t *tableView) String() string {
	if len(t.columns) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	header := make(table.Row, len(t.columns))
	configs := make([]table.ColumnConfig, len(t.columns))
	for i, col := range t.columns {
		header[i] = col.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft, AlignFooter: text.AlignLeft}
		if col.right {
			configs[i].Align = text.AlignRight
		}
	}
	tw.AppendHeader(header)
	tw.AppendRows(t.rows)
	tw.SetColumnConfigs(configs)
	if t.footer != "" {
		footer := make(table.Row, len(t.columns))
		for i := range footer {
			footer[i] = t.footer
		}
		tw.AppendFooter(footer, table.RowConfig{AutoMerge: true})
		tw.Style().Format.Footer = text.FormatDefault
	}
	return tw.Render()
}
