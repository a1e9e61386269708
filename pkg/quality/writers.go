package quality

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Artifact file names emitted by the quality stage.
const (
	MissingValuesFile = "data_quality_missing_values.csv"
	InvalidValuesFile = "data_quality_invalid_values.csv"
	SummaryFile       = "data_quality_summary.txt"
)

// WriteFindingsCSV writes findings with the standard report header.
func WriteFindingsCSV(path string, findings []Finding) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write findings: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"row_number", "variable_name", "issue_type", "current_value", "details"}); err != nil {
		return fmt.Errorf("write findings header: %w", err)
	}
	for _, fd := range findings {
		rec := []string{strconv.Itoa(fd.Row), fd.Variable, fd.Issue, fd.Value, fd.Details}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write finding row %d: %w", fd.Row, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush findings: %w", err)
	}
	return f.Close()
}

// WriteSummaryTXT writes the human-readable quality summary.
func WriteSummaryTXT(path string, r *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write quality summary: %w", err)
	}
	defer f.Close()

	s := r.Summary
	fmt.Fprintln(f, "DATA QUALITY REPORT")
	fmt.Fprintln(f, strings.Repeat("=", 50))
	fmt.Fprintln(f)
	fmt.Fprintf(f, "Total Rows: %d\n", s.TotalRows)
	fmt.Fprintf(f, "Total Columns: %d\n", s.TotalColumns)
	fmt.Fprintf(f, "Total Cells: %d\n", s.TotalCells)
	fmt.Fprintln(f)
	fmt.Fprintf(f, "Missing Values: %d\n", s.MissingCount)
	fmt.Fprintf(f, "Invalid Values: %d\n", s.InvalidCount)
	if s.PolicyCount > 0 {
		fmt.Fprintf(f, "Policy Violations: %d\n", s.PolicyCount)
	}
	fmt.Fprintf(f, "Total Issues: %d\n", s.TotalIssues)
	fmt.Fprintln(f)
	fmt.Fprintf(f, "Affected Rows: %d\n", s.AffectedRows)
	fmt.Fprintf(f, "Affected Columns: %d\n", s.AffectedColumns)
	fmt.Fprintln(f)
	fmt.Fprintf(f, "Data Quality: %.2f%%\n", s.QualityPercentage)
	if len(r.Warnings) > 0 {
		fmt.Fprintln(f)
		fmt.Fprintln(f, "WARNINGS:")
		for _, w := range r.Warnings {
			fmt.Fprintf(f, "- %s\n", w)
		}
	}
	return f.Close()
}
