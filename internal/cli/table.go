package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/JayabrataBasu/redisql/pkg/redisql"
)

const nullDisplay = "NULL"

// table collects rows for aligned display. Widths are display columns, so
// wide and combining characters line up.
type table struct {
	headers  []string
	rightCol []bool
	rows     [][]string
	maxWidth int
}

func newTable(maxWidth int, headers ...string) *table {
	return &table{
		headers:  headers,
		rightCol: make([]bool, len(headers)),
		maxWidth: maxWidth,
	}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) clip(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if t.maxWidth > 0 && runewidth.StringWidth(s) > t.maxWidth {
		return runewidth.Truncate(s, t.maxWidth, "…")
	}
	return s
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(t.clip(h))
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := runewidth.StringWidth(t.clip(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}

	line := func(cells []string, align bool) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			cell = t.clip(cell)
			if align && t.rightCol[i] {
				parts[i] = runewidth.FillLeft(cell, widths[i])
			} else {
				parts[i] = runewidth.FillRight(cell, widths[i])
			}
		}
		fmt.Fprintf(w, " %s\n", strings.TrimRight(strings.Join(parts, " | "), " "))
	}

	line(t.headers, false)
	sep := make([]string, len(widths))
	for i, n := range widths {
		sep[i] = strings.Repeat("-", n)
	}
	fmt.Fprintf(w, "-%s-\n", strings.Join(sep, "-+-"))
	for _, row := range t.rows {
		line(row, true)
	}
}

// renderCursor drains cur into an aligned table and returns the row count.
func renderCursor(w io.Writer, cur *redisql.Cursor, maxWidth int) (int, error) {
	md, err := cur.Metadata()
	if err != nil {
		return 0, err
	}

	cols := md.Columns()
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Name
	}
	t := newTable(maxWidth, headers...)
	for i, c := range cols {
		t.rightCol[i] = c.Type == redisql.TypeInteger
	}

	for {
		ok, err := cur.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		cells := make([]string, len(cols))
		for i := range cols {
			v, err := cur.Value(i + 1)
			if err != nil {
				return 0, err
			}
			if v.Null {
				cells[i] = nullDisplay
			} else {
				cells[i] = v.String()
			}
		}
		t.addRow(cells...)
	}

	t.render(w)
	return len(t.rows), nil
}

// PrintTable writes headers and rows as an aligned table followed by a row
// count. Nil cells print as NULL.
func PrintTable(w io.Writer, headers []string, rows [][]interface{}, maxWidth int) {
	t := newTable(maxWidth, headers...)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			switch v := v.(type) {
			case nil:
				cells[i] = nullDisplay
			case int64:
				t.rightCol[i] = true
				cells[i] = fmt.Sprint(v)
			case []byte:
				cells[i] = string(v)
			default:
				cells[i] = fmt.Sprint(v)
			}
		}
		t.addRow(cells...)
	}
	t.render(w)
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}
