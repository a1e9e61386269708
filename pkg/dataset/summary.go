package dataset

// DataSummary describes a loaded table: shape, column names and kinds, and
// per-column missing-value counts. It feeds the load-stage log output and
// the workbook's missing-data sheet.
type DataSummary struct {
	RowCount      int
	ColumnCount   int
	ColumnNames   []string
	ColumnKinds   map[string]string
	MissingCounts map[string]int
}

// Summarize builds a DataSummary for the table. A nil table summarizes to
// zeros rather than panicking, matching the loader's degraded paths.
func Summarize(t *Table) DataSummary {
	s := DataSummary{
		ColumnKinds:   make(map[string]string),
		MissingCounts: make(map[string]int),
	}
	if t == nil {
		s.ColumnNames = []string{}
		return s
	}
	s.RowCount = t.NumRows()
	s.ColumnCount = t.NumCols()
	s.ColumnNames = t.ColumnNames()
	for _, col := range t.Columns() {
		s.ColumnKinds[col.Name] = col.Kind.String()
		s.MissingCounts[col.Name] = col.MissingCount()
	}
	return s
}

// TotalMissing sums the missing-value counts across all columns.
func (s DataSummary) TotalMissing() int {
	total := 0
	for _, n := range s.MissingCounts {
		total += n
	}
	return total
}
