// Package report assembles the narrative analysis report from the
// statistics stage outputs and writes it in plain-text and Markdown
// form. The two files carry identical content; the Markdown headers
// read as section titles in the text rendering.
package report

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/stats"
)

// Report file names inside a run folder.
const (
	TXTFile = "analysis_report.txt"
	MDFile  = "analysis_report.md"
)

const rule = "================================================================================"

// Inputs collects everything the report narrates. Nil analysis fields
// degrade to "could not be performed" wording instead of failing.
type Inputs struct {
	SourcePath   string
	RunID        string
	Version      string
	Table        *dataset.Table
	Demographics *stats.Demographics
	Comparison   *stats.Comparison
	Correlations *stats.Matrix
}

// Generator renders analysis reports.
type Generator struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{logger: logger, now: time.Now}
}

// Write renders the report into dir in the requested formats ("txt",
// "md"; none means both) and returns the path per format, empty for a
// format not requested. Unlike charts, the report is a deliverable:
// any write failure is returned to the caller.
func (g *Generator) Write(dir string, in Inputs, formats ...string) (string, string, error) {
	wantTXT := len(formats) == 0
	wantMD := len(formats) == 0
	for _, f := range formats {
		switch f {
		case "txt":
			wantTXT = true
		case "md":
			wantMD = true
		}
	}
	content := strings.Join(g.build(dir, in), "\n")

	var txtPath, mdPath string
	if wantTXT {
		txtPath = filepath.Join(dir, TXTFile)
		if err := os.WriteFile(txtPath, []byte(content), 0o644); err != nil {
			return "", "", fmt.Errorf("write analysis report: %w", err)
		}
	}
	if wantMD {
		mdPath = filepath.Join(dir, MDFile)
		if err := os.WriteFile(mdPath, []byte(content), 0o644); err != nil {
			return "", "", fmt.Errorf("write analysis report: %w", err)
		}
	}
	g.logger.Info("analysis report written", "txt", txtPath, "md", mdPath)
	return txtPath, mdPath, nil
}

func (g *Generator) build(dir string, in Inputs) []string {
	knowledgeIntro := []string{
		"Knowledge scores range from 0 to 9, based on responses to the awareness",
		"items of the questionnaire.",
	}
	practiceIntro := []string{
		"Practice scores range from 0 to 7, based on responses to the reported",
		"practice items of the questionnaire.",
	}

	var lines []string
	lines = append(lines, g.headerSection(in)...)
	lines = append(lines, executiveSection(in)...)
	lines = append(lines, demographicsSection(in.Demographics)...)
	lines = append(lines, scoreSection(3, "Knowledge", knowledgeIntro, domain.ColKnowledgeScore, in.Table)...)
	lines = append(lines, scoreSection(4, "Practice", practiceIntro, domain.ColPracticeScore, in.Table)...)
	lines = append(lines, educationSection(in.Comparison)...)
	lines = append(lines, correlationSection(in.Correlations)...)
	lines = append(lines, filesSection(dir)...)
	lines = append(lines, footerSection(in)...)
	return lines
}

func (g *Generator) headerSection(in Inputs) []string {
	lines := []string{
		rule,
		"KNOWLEDGE AND PRACTICE SURVEY ANALYSIS REPORT",
		rule,
		"",
		fmt.Sprintf("Report Generated: %s", g.now().Format("2006-01-02 15:04:05")),
	}
	if in.RunID != "" {
		lines = append(lines, fmt.Sprintf("Run ID: %s", in.RunID))
	}
	lines = append(lines, "")
	if in.SourcePath != "" {
		lines = append(lines, fmt.Sprintf("Source Data File: %s", in.SourcePath), "")
	}
	lines = append(lines,
		fmt.Sprintf("Total Records Analyzed: %d", recordCount(in.Table)),
		"",
		rule,
		"",
	)
	return lines
}

func executiveSection(in Inputs) []string {
	lines := []string{
		"## 1. EXECUTIVE SUMMARY",
		"",
		fmt.Sprintf("  Records Analyzed: %d", recordCount(in.Table)),
	}
	if desc, ok := describeColumn(in.Table, domain.ColKnowledgeScore); ok {
		lines = append(lines, fmt.Sprintf("  Mean Knowledge Score: %.2f of %d", desc.Mean, domain.KnowledgeScoreMax))
	}
	if desc, ok := describeColumn(in.Table, domain.ColPracticeScore); ok {
		lines = append(lines, fmt.Sprintf("  Mean Practice Score: %.2f of %d", desc.Mean, domain.PracticeScoreMax))
	}
	switch {
	case in.Comparison.Tested() && in.Comparison.Knowledge.Significant:
		lines = append(lines, fmt.Sprintf(
			"  Headline: maternal education level is associated with knowledge scores (%s, p = %.4f).",
			in.Comparison.Method, in.Comparison.Knowledge.PValue))
	case in.Comparison.Tested():
		lines = append(lines, fmt.Sprintf(
			"  Headline: no significant association between maternal education and knowledge scores (%s, p = %.4f).",
			in.Comparison.Method, in.Comparison.Knowledge.PValue))
	default:
		lines = append(lines, "  Headline: the maternal education comparison could not be tested.")
	}
	lines = append(lines, "", "")
	return lines
}

func demographicsSection(d *stats.Demographics) []string {
	lines := []string{
		"## 2. DEMOGRAPHIC PROFILE",
		"",
		"This section provides an overview of the study population characteristics.",
		"",
	}
	if d == nil || (len(d.Frequencies) == 0 && len(d.Continuous) == 0) {
		lines = append(lines, "No demographic variables were found in the dataset.", "", "")
		return lines
	}

	sub := 0
	for _, table := range d.Frequencies {
		if len(table.Rows) == 0 {
			continue
		}
		sub++
		name := strings.TrimSuffix(table.Name, "_freq")
		lines = append(lines, fmt.Sprintf("### 2.%d %s Distribution", sub, titleCase(name)), "")
		for _, row := range table.Rows {
			label := row.Value
			if name == "age" {
				label = "Age " + label
			}
			lines = append(lines, fmt.Sprintf("  %s: %d (%.1f%%)", label, row.Count, row.Percentage))
		}
		lines = append(lines, "")
	}

	if len(d.Continuous) > 0 {
		sub++
		lines = append(lines, fmt.Sprintf("### 2.%d Continuous Variables Summary", sub), "")
		for _, row := range d.Continuous {
			lines = append(lines,
				fmt.Sprintf("**%s**", titleCase(row.Variable)),
				fmt.Sprintf("  Count: %d", row.Count),
				fmt.Sprintf("  Mean: %.2f", row.Mean),
				fmt.Sprintf("  Median: %.2f", row.Median),
				fmt.Sprintf("  Std Dev: %.2f", row.Std),
				fmt.Sprintf("  Range: %.2f - %.2f", row.Min, row.Max),
				"",
			)
		}
	}
	lines = append(lines, "")
	return lines
}

func scoreSection(num int, name string, intro []string, column string, t *dataset.Table) []string {
	lines := []string{
		fmt.Sprintf("## %d. %s SCORES ANALYSIS", num, strings.ToUpper(name)),
		"",
	}
	lines = append(lines, intro...)
	lines = append(lines, "")
	if t == nil {
		lines = append(lines, "")
		return lines
	}
	col, ok := t.Column(column)
	if !ok {
		lines = append(lines, "")
		return lines
	}
	values, missing := stats.NumericValues(col)
	desc := stats.Describe(values, missing)
	if desc.Count == 0 {
		lines = append(lines, "")
		return lines
	}

	lines = append(lines,
		fmt.Sprintf("### %d.1 Overall %s Score Statistics", num, name),
		"",
		fmt.Sprintf("  Total Respondents: %d", desc.Count),
		fmt.Sprintf("  Mean Score: %.2f", desc.Mean),
		fmt.Sprintf("  Median Score: %.2f", desc.Median),
		fmt.Sprintf("  Standard Deviation: %.2f", desc.Std),
		fmt.Sprintf("  Minimum Score: %.0f", desc.Min),
		fmt.Sprintf("  Maximum Score: %.0f", desc.Max),
		"",
		fmt.Sprintf("### %d.2 Score Distribution", num),
		"",
	)

	counts := make(map[int]int)
	total := 0
	for i, v := range values {
		if missing[i] {
			continue
		}
		counts[int(math.Round(v))]++
		total++
	}
	for score := int(desc.Min); score <= int(desc.Max); score++ {
		n, ok := counts[score]
		if !ok {
			continue
		}
		pct := float64(n) / float64(total) * 100
		lines = append(lines, fmt.Sprintf("  Score %d: %d respondents (%.1f%%)", score, n, pct))
	}
	lines = append(lines,
		"",
		"**Visualization**: See 'score_distributions.png' for histogram",
		"",
		"",
	)
	return lines
}

func educationSection(cmp *stats.Comparison) []string {
	lines := []string{
		"## 5. MATERNAL EDUCATION IMPACT ANALYSIS",
		"",
		"This section examines the relationship between maternal education level and",
		"respondents' knowledge and practice scores.",
		"",
	}
	if cmp.Empty() {
		lines = append(lines, "Maternal education analysis could not be performed due to insufficient data.", "", "")
		return lines
	}

	lines = append(lines, "### 5.1 Scores by Maternal Education Level", "")
	for _, g := range cmp.Groups {
		lines = append(lines,
			fmt.Sprintf("**%s** (n=%d)", g.Level, g.N),
			fmt.Sprintf("  Knowledge Score: %.2f ± %.2f", g.MeanKnowledge, g.StdKnowledge),
			fmt.Sprintf("  Practice Score: %.2f ± %.2f", g.MeanPractice, g.StdPractice),
			"",
		)
	}

	lines = append(lines,
		"### 5.2 Statistical Significance Testing",
		"",
		fmt.Sprintf("**Test Used**: %s", cmp.Method),
		"",
	)
	lines = append(lines, testBlock("Knowledge", cmp.Knowledge, cmp.EtaKnowledge)...)
	lines = append(lines, testBlock("Practice", cmp.Practice, cmp.EtaPractice)...)
	lines = append(lines,
		"**Visualizations**:",
		"  - See 'scores_by_maternal_education.png' for bar chart with error bars",
		"  - See 'score_boxplots.png' for box plots by education level",
		"",
		"",
	)
	return lines
}

func testBlock(score string, r stats.TestResult, eta float64) []string {
	if math.IsNaN(r.PValue) {
		return nil
	}
	lines := []string{
		fmt.Sprintf("**%s Scores:**", score),
		fmt.Sprintf("  Test Statistic: %.4f", r.Statistic),
		fmt.Sprintf("  P-value: %.4f", r.PValue),
	}
	if !math.IsNaN(eta) {
		lines = append(lines, fmt.Sprintf("  Effect Size (eta-squared): %.3f (%s)", eta, stats.EffectSizeLabel(eta)))
	}
	lines = append(lines,
		fmt.Sprintf("  Interpretation: The difference in %s scores across maternal", strings.ToLower(score)),
		fmt.Sprintf("                  education levels is %s.", significanceTier(r.PValue)),
		"",
	)
	return lines
}

func significanceTier(p float64) string {
	switch {
	case p < 0.001:
		return "highly significant (p < 0.001)"
	case p < 0.01:
		return "very significant (p < 0.01)"
	case p < 0.05:
		return "statistically significant (p < 0.05)"
	default:
		return "not statistically significant (p ≥ 0.05)"
	}
}

func correlationSection(m *stats.Matrix) []string {
	lines := []string{
		"## 6. CORRELATION ANALYSIS",
		"",
		"Pearson correlation coefficients between continuous variables.",
		"",
	}
	if m == nil || len(m.Vars) == 0 {
		lines = append(lines, "Correlation analysis could not be performed due to insufficient data.", "", "")
		return lines
	}

	lines = append(lines,
		"### 6.1 Correlation Matrix",
		"",
		fmt.Sprintf("Computed over %d complete cases. The full matrix is in 'correlation_matrix.csv'.", m.N),
		"",
		"**Key Findings:**",
		"",
	)
	found := 0
	for _, anchor := range []string{domain.ColKnowledgeScore, domain.ColPracticeScore} {
		for _, other := range m.Vars {
			if other == anchor {
				continue
			}
			r := m.At(anchor, other)
			if math.Abs(r) > 0.3 {
				lines = append(lines, fmt.Sprintf("  %s ↔ %s: %.3f", titleCase(anchor), titleCase(other), r))
				found++
			}
		}
	}
	if found == 0 {
		lines = append(lines, "  No correlations above |r| = 0.3 involving the derived scores.")
	}
	lines = append(lines,
		"",
		"**Visualization**: See 'scatter_matrix.png' for scatter plots",
		"",
		"",
	)
	return lines
}

func filesSection(dir string) []string {
	lines := []string{
		"## 7. GENERATED OUTPUT FILES",
		"",
		"All analysis outputs have been saved to the output folder:",
		dir,
		"",
		"### 7.1 Data Files",
		"",
	}
	dataFiles := [][2]string{
		{"scored_dataset.csv", "Complete dataset with all calculated scores and derived fields"},
		{"maternal_education_summary.csv", "Summary statistics by maternal education level"},
		{"demographic_<table>.csv", "Frequency tables, the education crosstab, and continuous descriptives"},
		{"correlation_matrix.csv", "Correlation coefficients between continuous variables"},
		{"data_quality_missing_values.csv", "Rows and variables with missing cells"},
		{"data_quality_invalid_values.csv", "Out-of-range and disallowed values"},
		{"data_quality_summary.txt", "Data quality assessment summary"},
	}
	for _, f := range dataFiles {
		lines = append(lines, fmt.Sprintf("  - **%s**: %s", f[0], f[1]))
	}

	lines = append(lines, "", "### 7.2 Visualization Files", "")
	vizFiles := [][2]string{
		{"scores_by_maternal_education.png", "Bar chart showing mean scores by education level"},
		{"score_distributions.png", "Histograms of knowledge and practice score distributions"},
		{"score_boxplots.png", "Box plots comparing scores across education groups"},
		{"scatter_matrix.png", "Scatter plot matrix for continuous variables"},
	}
	for _, f := range vizFiles {
		lines = append(lines, fmt.Sprintf("  - **%s**: %s", f[0], f[1]))
	}

	lines = append(lines,
		"",
		"### 7.3 Report and Run Files",
		"",
		"  - **analysis_report.txt**: This report in plain text format",
		"  - **analysis_report.md**: This report in Markdown format",
		"  - **FILE_INVENTORY.md**: Complete inventory of all output files",
		"  - **analysis.log**: Structured log of the analysis run",
		"  - **metrics.prom**: Run metrics in Prometheus textfile format",
		"",
	)
	return lines
}

func footerSection(in Inputs) []string {
	alpha := stats.DefaultAlpha
	if in.Comparison != nil && in.Comparison.Alpha > 0 {
		alpha = in.Comparison.Alpha
	}
	version := in.Version
	if version == "" {
		version = "dev"
	}
	return []string{
		rule,
		"",
		"## NOTES",
		"",
		fmt.Sprintf("- All statistical tests use α = %.2f significance level", alpha),
		"- Missing values follow the predefined rules (zero for unscored items, null for derived calculations)",
		"- All visualizations are saved at 300 DPI resolution in PNG format",
		fmt.Sprintf("- Generated by kapstat %s", version),
		"",
		rule,
		"",
		"END OF REPORT",
		"",
	}
}

func recordCount(t *dataset.Table) int {
	if t == nil {
		return 0
	}
	return t.NumRows()
}

func describeColumn(t *dataset.Table, name string) (stats.Descriptive, bool) {
	if t == nil {
		return stats.Descriptive{}, false
	}
	col, ok := t.Column(name)
	if !ok {
		return stats.Descriptive{}, false
	}
	values, missing := stats.NumericValues(col)
	desc := stats.Describe(values, missing)
	return desc, desc.Count > 0
}

// titleCase renders a snake_case variable name as a report heading.
func titleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
