// Package dataset loads survey exports into an in-memory column table.
//
// Supported formats are CSV (with per-column type inference), SAS7BDAT, and
// Stata dta. One table row corresponds to one respondent; derived columns
// are appended by the scoring stage without touching loaded data.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind describes the inferred storage type of a column.
type Kind int

const (
	// KindNumeric columns hold float64 values.
	KindNumeric Kind = iota
	// KindText columns hold raw strings.
	KindText
)

func (k Kind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "text"
}

// Column is a single survey variable: a name, an inferred kind, and one
// value per respondent with a per-cell missing mask.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Missing []bool
}

// Len returns the number of cells in the column.
func (c *Column) Len() int {
	return len(c.Missing)
}

// IsMissing reports whether the cell at row i holds no value.
func (c *Column) IsMissing(i int) bool {
	return i < 0 || i >= len(c.Missing) || c.Missing[i]
}

// Float returns the numeric value at row i. The second result is false for
// missing cells, text columns, and NaN payloads.
func (c *Column) Float(i int) (float64, bool) {
	if c.IsMissing(i) || c.Kind != KindNumeric {
		return 0, false
	}
	v := c.Floats[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Value returns the cell at row i formatted for display. Missing cells
// render as the empty string.
func (c *Column) Value(i int) string {
	if c.IsMissing(i) {
		return ""
	}
	if c.Kind == KindNumeric {
		return formatFloat(c.Floats[i])
	}
	return c.Strings[i]
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// NewNumericColumn builds a numeric column from values and an optional
// missing mask (nil means fully observed).
func NewNumericColumn(name string, values []float64, missing []bool) *Column {
	if missing == nil {
		missing = make([]bool, len(values))
	}
	return &Column{Name: name, Kind: KindNumeric, Floats: values, Missing: missing}
}

// NewTextColumn builds a text column from values and an optional missing
// mask.
func NewTextColumn(name string, values []string, missing []bool) *Column {
	if missing == nil {
		missing = make([]bool, len(values))
	}
	return &Column{Name: name, Kind: KindText, Strings: values, Missing: missing}
}

// Table is an ordered collection of equally sized columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewTable builds a table from columns. All columns must share one length
// and names must be unique.
func NewTable(cols []*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for _, col := range cols {
		if err := t.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NumRows returns the respondent count.
func (t *Table) NumRows() int {
	return t.rows
}

// NumCols returns the variable count.
func (t *Table) NumCols() int {
	return len(t.cols)
}

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or false if absent.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Columns returns the columns in table order. The slice is shared; callers
// must not reorder it.
func (t *Table) Columns() []*Column {
	return t.cols
}

// AddColumn appends a column. The first column fixes the table row count.
func (t *Table) AddColumn(col *Column) error {
	if col == nil {
		return fmt.Errorf("add column: nil column")
	}
	if _, dup := t.index[col.Name]; dup {
		return fmt.Errorf("add column %q: duplicate name", col.Name)
	}
	if len(t.cols) == 0 {
		t.rows = col.Len()
	} else if col.Len() != t.rows {
		return fmt.Errorf("add column %q: %d rows, table has %d", col.Name, col.Len(), t.rows)
	}
	t.index[col.Name] = len(t.cols)
	t.cols = append(t.cols, col)
	return nil
}

// DropColumn removes the named column if present.
func (t *Table) DropColumn(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.cols = append(t.cols[:i], t.cols[i+1:]...)
	delete(t.index, name)
	for j := i; j < len(t.cols); j++ {
		t.index[t.cols[j].Name] = j
	}
}

// FindColumn returns the first column whose name satisfies match, in table
// order.
func (t *Table) FindColumn(match func(string) bool) (*Column, bool) {
	for _, c := range t.cols {
		if match(c.Name) {
			return c, true
		}
	}
	return nil, false
}

// Floats returns the named column's values with their observed mask. Text
// columns yield an all-missing result of table length, so numeric stages
// degrade uniformly when a variable was exported as text.
func (t *Table) Floats(name string) ([]float64, []bool) {
	col, ok := t.Column(name)
	if !ok || col.Kind != KindNumeric {
		return make([]float64, t.rows), make([]bool, t.rows)
	}
	ok2 := make([]bool, col.Len())
	for i := range ok2 {
		_, ok2[i] = col.Float(i)
	}
	return col.Floats, ok2
}

// formatFloat renders a float without trailing zero noise, so integer-coded
// survey responses print as integers.
func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// MissingColumns reports which of the required column names are absent,
// sorted.
func (t *Table) MissingColumns(required []string) []string {
	var missing []string
	for _, name := range required {
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
