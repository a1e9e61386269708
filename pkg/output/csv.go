package output

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/stats"
)

// WriteTableCSV exports a table with its columns in order. Missing
// cells render as empty fields.
func WriteTableCSV(path string, t *dataset.Table) error {
	records := [][]string{t.ColumnNames()}
	cols := t.Columns()
	for r := 0; r < t.NumRows(); r++ {
		row := make([]string, len(cols))
		for c, col := range cols {
			row[c] = col.Value(r)
		}
		records = append(records, row)
	}
	return writeCSV(path, records)
}

// WriteFrequencyCSV exports one categorical distribution. The first
// header is the table's variable name without the _freq suffix,
// matching the downstream column naming of the frequency artifacts.
func WriteFrequencyCSV(path string, ft stats.FrequencyTable) error {
	records := [][]string{{strings.TrimSuffix(ft.Name, "_freq"), "count", "percentage", "proportion"}}
	for _, row := range ft.Rows {
		records = append(records, []string{
			row.Value,
			strconv.Itoa(row.Count),
			formatCell(row.Percentage),
			formatCell(row.Proportion),
		})
	}
	return writeCSV(path, records)
}

// WriteContinuousCSV exports the continuous variable summaries.
func WriteContinuousCSV(path string, rows []stats.DescriptiveRow) error {
	records := [][]string{{"variable", "count", "mean", "median", "std", "min", "max", "q25", "q75"}}
	for _, row := range rows {
		records = append(records, []string{
			row.Variable,
			strconv.Itoa(row.Count),
			formatCell(row.Mean),
			formatCell(row.Median),
			formatCell(row.Std),
			formatCell(row.Min),
			formatCell(row.Max),
			formatCell(row.Q25),
			formatCell(row.Q75),
		})
	}
	return writeCSV(path, records)
}

// WriteCrossTabCSV exports a contingency table with Total margins.
func WriteCrossTabCSV(path string, ct *stats.CrossTab) error {
	header := append([]string{ct.RowVar}, ct.ColLevels...)
	header = append(header, "Total")
	records := [][]string{header}
	for i, level := range ct.RowLevels {
		row := []string{level}
		for j := range ct.ColLevels {
			row = append(row, strconv.Itoa(ct.Counts[i][j]))
		}
		row = append(row, strconv.Itoa(ct.RowTotals[i]))
		records = append(records, row)
	}
	total := []string{"Total"}
	for _, n := range ct.ColTotals {
		total = append(total, strconv.Itoa(n))
	}
	total = append(total, strconv.Itoa(ct.Grand))
	records = append(records, total)
	return writeCSV(path, records)
}

// WriteMatrixCSV exports a correlation matrix with the variable names
// as both header and leading column. NaN coefficients render empty.
func WriteMatrixCSV(path string, m *stats.Matrix) error {
	records := [][]string{append([]string{""}, m.Vars...)}
	for i, v := range m.Vars {
		row := []string{v}
		for j := range m.Vars {
			row = append(row, formatCell(m.R[i][j]))
		}
		records = append(records, row)
	}
	return writeCSV(path, records)
}

// WriteComparisonCSV exports the per-education-level score summary.
func WriteComparisonCSV(path string, cmp *stats.Comparison) error {
	records := [][]string{{"education_level", "n", "mean_knowledge", "std_knowledge", "mean_practice", "std_practice"}}
	for _, g := range cmp.Groups {
		records = append(records, []string{
			g.Level,
			strconv.Itoa(g.N),
			formatCell(g.MeanKnowledge),
			formatCell(g.StdKnowledge),
			formatCell(g.MeanPractice),
			formatCell(g.StdPractice),
		})
	}
	return writeCSV(path, records)
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
