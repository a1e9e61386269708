// Package workbook exports the survey for review outside the analysis
// pipeline: an Excel workbook with the raw and scored tables plus
// companion CSV and text summaries. These are the convert command's
// deliverables, so every write failure is an error rather than a
// logged warning.
package workbook

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/xuri/excelize/v2"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/output"
	"github.com/kapstat/kapstat/pkg/stats"
)

// Artifact file names emitted by convert.
const (
	WorkbookFile  = "survey_data.xlsx"
	OriginalCSV   = "survey_original.csv"
	ScoredCSV     = "survey_scored.csv"
	KeyColumnsCSV = "survey_key_columns.csv"
	SummaryTXT    = "survey_summary.txt"
)

const (
	sheetOriginal = "Original Data"
	sheetScored   = "Scored Data"
	sheetSummary  = "Summary Statistics"
	sheetDist     = "Score Distributions"
	sheetMissing  = "Missing Data Analysis"
)

const summaryRule = "================================================================================"

// Exporter writes the convert artifacts.
type Exporter struct {
	schema domain.Schema
	logger *slog.Logger
}

func NewExporter(schema domain.Schema, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{schema: schema, logger: logger}
}

// Export writes every convert artifact into dir and returns their paths
// in written order.
func (e *Exporter) Export(dir string, original, scored *dataset.Table) ([]string, error) {
	key := e.keyColumns(scored)

	var written []string
	steps := []struct {
		name  string
		write func(path string) error
	}{
		{OriginalCSV, func(p string) error { return output.WriteTableCSV(p, original) }},
		{ScoredCSV, func(p string) error { return output.WriteTableCSV(p, scored) }},
		{KeyColumnsCSV, func(p string) error { return output.WriteTableCSV(p, key) }},
		{WorkbookFile, func(p string) error { return e.writeWorkbook(p, original, scored) }},
		{SummaryTXT, func(p string) error { return e.writeSummary(p, scored, key) }},
	}
	for _, step := range steps {
		path := filepath.Join(dir, step.name)
		if err := step.write(path); err != nil {
			return written, fmt.Errorf("export %s: %w", step.name, err)
		}
		e.logger.Info("convert artifact written", "file", step.name)
		written = append(written, path)
	}
	return written, nil
}

// keyColumns picks the demographic and derived columns out of the
// scored table for the compact review export. Absent columns are
// skipped so partially keyed exports still convert.
func (e *Exporter) keyColumns(t *dataset.Table) *dataset.Table {
	specs := []struct {
		configured string
		candidates []string
	}{
		{e.schema.Age, []string{"Age", "age"}},
		{e.schema.MaternalEducation, []string{"MotherEducation", "Mother_education", "mother_education"}},
		{e.schema.PaternalEducation, []string{"FatherEducation", "Father_education", "father_education"}},
		{e.schema.IncomePerMonth, []string{"IncomePerMonth", "Income_per_month", "income_per_month"}},
		{domain.ColTotalFamilyMembers, []string{"Total_family_members", "TotalFamilyMembers"}},
		{domain.ColPerCapitaIncome, []string{"Per_capita_income", "PerCapitaIncome"}},
		{domain.ColKnowledgeScore, nil},
		{domain.ColPracticeScore, nil},
		{domain.ColTotalScore, nil},
	}
	var cols []*dataset.Column
	for _, spec := range specs {
		if col, ok := stats.ResolveColumn(t, spec.configured, spec.candidates...); ok {
			cols = append(cols, col)
		}
	}
	key, err := dataset.NewTable(cols)
	if err != nil {
		return t
	}
	return key
}

func (e *Exporter) writeWorkbook(path string, original, scored *dataset.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	f.SetSheetName("Sheet1", sheetOriginal)
	if err := writeTableSheet(f, sheetOriginal, original, bold); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetScored); err != nil {
		return fmt.Errorf("sheet %s: %w", sheetScored, err)
	}
	if err := writeTableSheet(f, sheetScored, scored, bold); err != nil {
		return err
	}
	if err := e.writeSummarySheet(f, scored, bold); err != nil {
		return err
	}
	if err := writeDistributionSheet(f, scored, bold); err != nil {
		return err
	}
	if err := writeMissingSheet(f, original, bold); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// writeTableSheet dumps a table verbatim: header row plus one row per
// record, numeric cells as numbers so spreadsheet formulas work on them.
func writeTableSheet(f *excelize.File, sheet string, t *dataset.Table, bold int) error {
	names := t.ColumnNames()
	for i, name := range names {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, name)
	}
	cols := t.Columns()
	for r := 0; r < t.NumRows(); r++ {
		for c, col := range cols {
			if col.IsMissing(r) {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if v, ok := col.Float(r); ok {
				f.SetCellValue(sheet, cell, v)
			} else {
				f.SetCellValue(sheet, cell, col.Value(r))
			}
		}
	}
	return styleHeader(f, sheet, len(names), bold, 16)
}

func (e *Exporter) writeSummarySheet(f *excelize.File, scored *dataset.Table, bold int) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("sheet %s: %w", sheetSummary, err)
	}
	f.SetCellValue(sheetSummary, "A1", "Metric")
	f.SetCellValue(sheetSummary, "B1", "Value")

	row := 2
	put := func(metric string, value any) {
		f.SetCellValue(sheetSummary, fmt.Sprintf("A%d", row), metric)
		f.SetCellValue(sheetSummary, fmt.Sprintf("B%d", row), value)
		row++
	}
	put("Total Records", scored.NumRows())
	put("Total Columns", scored.NumCols())

	for _, v := range []struct {
		column string
		title  string
	}{
		{domain.ColKnowledgeScore, "Knowledge Score"},
		{domain.ColPracticeScore, "Practice Score"},
		{domain.ColTotalScore, "Total Score"},
		{domain.ColPerCapitaIncome, "Per Capita Income"},
	} {
		col, ok := scored.Column(v.column)
		if !ok {
			continue
		}
		desc := stats.Describe(stats.NumericValues(col))
		put(v.title+" Mean", desc.Mean)
		put(v.title+" Std", desc.Std)
	}
	if col, ok := scored.Column(domain.ColPerCapitaIncome); ok {
		desc := stats.Describe(stats.NumericValues(col))
		put("Valid Per Capita Records", desc.Count)
	}

	f.SetColWidth(sheetSummary, "A", "A", 28)
	f.SetColWidth(sheetSummary, "B", "B", 18)
	return styleHeader(f, sheetSummary, 2, bold, 0)
}

// writeDistributionSheet tabulates how many respondents reached each
// score value. Rows where no score matched are left out.
func writeDistributionSheet(f *excelize.File, scored *dataset.Table, bold int) error {
	if _, err := f.NewSheet(sheetDist); err != nil {
		return fmt.Errorf("sheet %s: %w", sheetDist, err)
	}
	headers := []string{"Score", "Knowledge Score", "Practice Score", "Total Score"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetDist, cell, h)
	}

	counts := [3]map[int]int{
		scoreCounts(scored, domain.ColKnowledgeScore),
		scoreCounts(scored, domain.ColPracticeScore),
		scoreCounts(scored, domain.ColTotalScore),
	}
	row := 2
	for score := 0; score <= domain.TotalScoreMax; score++ {
		if counts[0][score] == 0 && counts[1][score] == 0 && counts[2][score] == 0 {
			continue
		}
		f.SetCellValue(sheetDist, fmt.Sprintf("A%d", row), score)
		f.SetCellValue(sheetDist, fmt.Sprintf("B%d", row), counts[0][score])
		f.SetCellValue(sheetDist, fmt.Sprintf("C%d", row), counts[1][score])
		f.SetCellValue(sheetDist, fmt.Sprintf("D%d", row), counts[2][score])
		row++
	}
	return styleHeader(f, sheetDist, len(headers), bold, 16)
}

// writeMissingSheet lists the columns carrying missing cells, heaviest
// first, with the share of rows affected.
func writeMissingSheet(f *excelize.File, original *dataset.Table, bold int) error {
	if _, err := f.NewSheet(sheetMissing); err != nil {
		return fmt.Errorf("sheet %s: %w", sheetMissing, err)
	}
	headers := []string{"Column", "Missing Count", "Missing Percentage"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetMissing, cell, h)
	}

	type entry struct {
		name  string
		count int
	}
	var entries []entry
	for _, col := range original.Columns() {
		if n := col.MissingCount(); n > 0 {
			entries = append(entries, entry{col.Name, n})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].count > entries[j].count })

	rows := original.NumRows()
	for i, en := range entries {
		row := i + 2
		f.SetCellValue(sheetMissing, fmt.Sprintf("A%d", row), en.name)
		f.SetCellValue(sheetMissing, fmt.Sprintf("B%d", row), en.count)
		f.SetCellValue(sheetMissing, fmt.Sprintf("C%d", row), fmt.Sprintf("%.1f%%", float64(en.count)/float64(rows)*100))
	}
	return styleHeader(f, sheetMissing, len(headers), bold, 20)
}

func styleHeader(f *excelize.File, sheet string, ncols, bold int, width float64) error {
	last, err := excelize.ColumnNumberToName(ncols)
	if err != nil {
		return fmt.Errorf("sheet %s: %w", sheet, err)
	}
	if width > 0 {
		if err := f.SetColWidth(sheet, "A", last, width); err != nil {
			return fmt.Errorf("sheet %s widths: %w", sheet, err)
		}
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("sheet %s header style: %w", sheet, err)
	}
	return nil
}

func scoreCounts(t *dataset.Table, name string) map[int]int {
	counts := make(map[int]int)
	col, ok := t.Column(name)
	if !ok {
		return counts
	}
	for r := 0; r < col.Len(); r++ {
		if v, ok := col.Float(r); ok {
			counts[int(math.Round(v))]++
		}
	}
	return counts
}

// writeSummary renders the human-readable conversion summary with the
// score statistics, ASCII distribution bars, a sample of the key
// columns, and the full column listing.
func (e *Exporter) writeSummary(path string, scored, key *dataset.Table) error {
	var b strings.Builder

	section := func(title string) {
		b.WriteString(summaryRule + "\n")
		b.WriteString(title + "\n")
		b.WriteString(summaryRule + "\n\n")
	}

	section("SURVEY DATA SUMMARY")
	fmt.Fprintf(&b, "Total Records: %d\n", scored.NumRows())
	fmt.Fprintf(&b, "Total Columns: %d\n\n", scored.NumCols())

	section("SCORE STATISTICS")
	writeScoreStats(&b, scored, domain.ColKnowledgeScore, fmt.Sprintf("Knowledge Score (0-%d)", domain.KnowledgeScoreMax))
	writeScoreStats(&b, scored, domain.ColPracticeScore, fmt.Sprintf("Practice Score (0-%d)", domain.PracticeScoreMax))
	writeScoreStats(&b, scored, domain.ColTotalScore, fmt.Sprintf("Total Score (0-%d)", domain.TotalScoreMax))
	writePerCapitaStats(&b, scored)

	section("SCORE DISTRIBUTIONS")
	writeDistribution(&b, scored, domain.ColKnowledgeScore, "Knowledge Score Distribution:", domain.KnowledgeScoreMax)
	b.WriteString("\n")
	writeDistribution(&b, scored, domain.ColPracticeScore, "Practice Score Distribution:", domain.PracticeScoreMax)
	b.WriteString("\n")

	section(fmt.Sprintf("SAMPLE DATA (First %d Records)", sampleRows(key)))
	writeSampleTable(&b, key)
	b.WriteString("\n")

	section("COLUMN NAMES")
	for i, name := range scored.ColumnNames() {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, name)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func writeScoreStats(b *strings.Builder, t *dataset.Table, column, title string) {
	col, ok := t.Column(column)
	if !ok {
		return
	}
	desc := stats.Describe(stats.NumericValues(col))
	if desc.Count == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	fmt.Fprintf(b, "  Mean:   %.2f\n", desc.Mean)
	fmt.Fprintf(b, "  Median: %.2f\n", desc.Median)
	fmt.Fprintf(b, "  Std:    %.2f\n", desc.Std)
	fmt.Fprintf(b, "  Min:    %.0f\n", desc.Min)
	fmt.Fprintf(b, "  Max:    %.0f\n\n", desc.Max)
}

func writePerCapitaStats(b *strings.Builder, t *dataset.Table) {
	col, ok := t.Column(domain.ColPerCapitaIncome)
	if !ok {
		return
	}
	desc := stats.Describe(stats.NumericValues(col))
	if desc.Count == 0 {
		return
	}
	total := t.NumRows()
	fmt.Fprintf(b, "Per Capita Income:\n")
	fmt.Fprintf(b, "  Valid Records: %d/%d (%.1f%%)\n", desc.Count, total, float64(desc.Count)/float64(total)*100)
	fmt.Fprintf(b, "  Mean:   %.2f\n", desc.Mean)
	fmt.Fprintf(b, "  Median: %.2f\n", desc.Median)
	fmt.Fprintf(b, "  Std:    %.2f\n", desc.Std)
	fmt.Fprintf(b, "  Min:    %.2f\n", desc.Min)
	fmt.Fprintf(b, "  Max:    %.2f\n\n", desc.Max)
}

const distributionBarWidth = 40

func writeDistribution(b *strings.Builder, t *dataset.Table, column, title string, max int) {
	counts := scoreCounts(t, column)
	total := t.NumRows()
	if total == 0 {
		return
	}
	peak := 0
	for score := 0; score <= max; score++ {
		if counts[score] > peak {
			peak = counts[score]
		}
	}
	b.WriteString(title + "\n")
	for score := 0; score <= max; score++ {
		count := counts[score]
		pct := float64(count) / float64(total) * 100
		bar := ""
		if peak > 0 {
			bar = strings.Repeat("█", int(math.Round(float64(count)/float64(peak)*distributionBarWidth)))
		}
		fmt.Fprintf(b, "  %d: %3d (%5.1f%%) %s\n", score, count, pct, bar)
	}
}

func sampleRows(t *dataset.Table) int {
	if n := t.NumRows(); n < 10 {
		return n
	}
	return 10
}

func writeSampleTable(b *strings.Builder, key *dataset.Table) {
	tw := tablewriter.NewWriter(b)
	tw.SetHeader(key.ColumnNames())
	cols := key.Columns()
	for r := 0; r < sampleRows(key); r++ {
		row := make([]string, len(cols))
		for c, col := range cols {
			row[c] = col.Value(r)
		}
		tw.Append(row)
	}
	tw.Render()
}
