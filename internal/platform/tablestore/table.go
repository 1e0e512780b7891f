// Package tablestore persists follow-up records as a flat table: a header
// row followed by one row per submission. The Store interface hides the
// concrete backend (local CSV or Excel file, remote file, S3 object, Google
// Sheets range, Postgres table) from the record reconciliation logic.
package tablestore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// NotApplicable marks a conditional field whose triggering flag was "No".
const NotApplicable = "N/A"

// Record is one row of the table, keyed by column name. Values read back
// from storage are strings; freshly assembled records may also hold ints,
// civil.Date values and []string multi-value fields.
type Record map[string]any

// Clone returns a shallow copy of the record. Slice values are copied.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Table is an ordered sequence of records sharing a loosely enforced
// column set. Columns fixes the header order used when the table is written.
type Table struct {
	Columns []string
	Rows    []Record
}

// Len returns the number of data rows.
func (t Table) Len() int { return len(t.Rows) }

// HasColumn reports whether name is part of the header.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// WithColumns returns a copy of t whose header is extended with every name
// in cols that is not already present, in the given order.
func (t Table) WithColumns(cols ...string) Table {
	out := Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    append([]Record(nil), t.Rows...),
	}
	for _, c := range cols {
		if !out.HasColumn(c) {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// Append returns a new table with r as its last row. Keys of r that are not
// yet columns are added to the header in sorted order. The receiver is never
// modified.
func (t Table) Append(r Record) Table {
	var extra []string
	for k := range r {
		if !t.HasColumn(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	out := t.WithColumns(extra...)
	out.Rows = append(out.Rows, r.Clone())
	return out
}

// Grid renders the table as rows of cells, header first.
func (t Table) Grid() [][]string {
	grid := make([][]string, 0, len(t.Rows)+1)
	grid = append(grid, append([]string(nil), t.Columns...))
	for _, r := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cells[i] = FormatValue(r[c])
		}
		grid = append(grid, cells)
	}
	return grid
}

// FromGrid builds a table from rows of cells whose first row is the header.
// Header cells that are blank are ignored along with their column. A
// repeated header name is kept with a numeric suffix ("Age_2") so its data
// survives the next write. Short rows are padded and rows with no content
// at all are skipped.
func FromGrid(grid [][]string) Table {
	if len(grid) == 0 {
		return Table{}
	}

	header := grid[0]
	var t Table
	idx := make([]int, 0, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		name := h
		for n := 2; t.HasColumn(name); n++ {
			name = fmt.Sprintf("%s_%d", h, n)
		}
		t.Columns = append(t.Columns, name)
		idx = append(idx, i)
	}

	for _, cells := range grid[1:] {
		if blankRow(cells) {
			continue
		}
		r := make(Record, len(t.Columns))
		for n, i := range idx {
			if i < len(cells) {
				r[t.Columns[n]] = cells[i]
			} else {
				r[t.Columns[n]] = ""
			}
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// IsMissing reports whether v is the table's null representation: nil, a
// blank string or a "nan" left behind by spreadsheet tooling.
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(x)
		return s == "" || strings.EqualFold(s, "nan")
	case *civil.Date:
		return x == nil
	case *int:
		return x == nil
	}
	return false
}

// FormatValue renders a record value as a single cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case *int:
		if x == nil {
			return ""
		}
		return strconv.Itoa(*x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []string:
		return FlattenList(x)
	case civil.Date:
		return x.String()
	case *civil.Date:
		if x == nil {
			return ""
		}
		return x.String()
	case time.Time:
		return x.Format(time.DateOnly)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// FlattenList renders a multi-value field the way it is kept in a single
// cell: bracketed, comma separated, each token single-quoted.
//
//	FlattenList([]string{"T1", "N0"}) == "['T1', 'N0']"
func FlattenList(values []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(v)
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}
