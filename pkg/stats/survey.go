package stats

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
)

// DefaultAlpha is the significance level for the between-group tests.
const DefaultAlpha = 0.05

// Fallback column names tried after the configured schema name, covering
// the renamings seen across survey exports of this questionnaire.
var (
	ageFallbacks                = []string{"age", "Age"}
	incomeFallbacks             = []string{"income_per_month", "Income_per_month", "IncomePerMonth", "income"}
	familySizeFallbacks         = []string{"total_family_members", "Total_family_members", "TotalFamilyMembers"}
	perCapitaFallbacks          = []string{"per_capita_income", "Per_capita_income", "PerCapitaIncome"}
	maternalEducationFallbacks  = []string{"mother_education", "Mother_education", "MotherEducation", "maternal_education"}
	paternalEducationFallbacks  = []string{"father_education", "Father_education", "FatherEducation", "paternal_education"}
	maternalOccupationFallbacks = []string{"mother_occupation", "Mother_occupation", "MotherOccupation", "maternal_occupation"}
	paternalOccupationFallbacks = []string{"father_occupation", "Father_occupation", "FatherOccupation", "paternal_occupation"}
)

// Config tunes the statistical stage.
type Config struct {
	// Alpha is the significance level for the between-group tests.
	Alpha float64
	// CorrelationVariables restricts the correlation matrix to the named
	// columns. Empty means the standard continuous survey variables.
	CorrelationVariables []string
	// MinCorrelationRows is the number of listwise-complete rows required
	// before a correlation matrix is computed.
	MinCorrelationRows int
	// OutlierThreshold is the modified z-score cutoff for the robust
	// outlier screen.
	OutlierThreshold float64
}

// Analyzer runs the statistical stage over a scored table.
type Analyzer struct {
	schema domain.Schema
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer builds an analyzer. Zero config fields fall back to the
// package defaults; a nil logger discards.
func NewAnalyzer(schema domain.Schema, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.MinCorrelationRows < 2 {
		cfg.MinCorrelationRows = 2
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = DefaultOutlierThreshold
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{schema: schema, cfg: cfg, logger: logger}
}

// GroupSummary describes one education level in the comparison table.
// The standard deviations use the n-1 denominator and are NaN for
// single-respondent levels.
type GroupSummary struct {
	Level         string
	N             int
	MeanKnowledge float64
	StdKnowledge  float64
	MeanPractice  float64
	StdPractice   float64
}

// TestResult carries one score's between-group test outcome.
type TestResult struct {
	Statistic   float64
	PValue      float64
	Significant bool
}

// Comparison is the maternal education impact analysis: per-level score
// summaries plus the between-group tests. Method names the test that
// produced the statistics; the knowledge attempt picks it and the
// practice test reuses it so the report compares like with like.
type Comparison struct {
	Column       string
	Method       string
	Alpha        float64
	N            int
	Groups       []GroupSummary
	Knowledge    TestResult
	Practice     TestResult
	EtaKnowledge float64
	EtaPractice  float64
}

// Empty reports whether the comparison found nothing to summarize.
func (c *Comparison) Empty() bool { return c == nil || len(c.Groups) == 0 }

// Tested reports whether a between-group test actually ran.
func (c *Comparison) Tested() bool {
	return c != nil && (c.Method == MethodANOVA || c.Method == MethodKruskal)
}

// EducationColumn resolves the maternal education variable: the
// configured name first, then the fuzzy match over all columns.
func EducationColumn(t *dataset.Table, schema domain.Schema) (*dataset.Column, bool) {
	if schema.MaternalEducation != "" {
		if col, ok := t.Column(schema.MaternalEducation); ok {
			return col, true
		}
	}
	return t.FindColumn(domain.MatchMaternalEducation)
}

// ResolveColumn finds a variable by its configured name, then by the
// conventional fallback names seen across exports.
func ResolveColumn(t *dataset.Table, configured string, fallbacks ...string) (*dataset.Column, bool) {
	if configured != "" {
		if col, ok := t.Column(configured); ok {
			return col, true
		}
	}
	for _, name := range fallbacks {
		if col, ok := t.Column(name); ok {
			return col, true
		}
	}
	return nil, false
}

// CompareEducation groups the derived scores by maternal education
// level and tests whether the levels differ. An absent education or
// score column, or zero complete rows, yields an empty comparison with
// a warning rather than an error.
func (a *Analyzer) CompareEducation(t *dataset.Table) *Comparison {
	nan := math.NaN()
	cmp := &Comparison{
		Method:       MethodNone,
		Alpha:        a.cfg.Alpha,
		Knowledge:    TestResult{Statistic: nan, PValue: nan},
		Practice:     TestResult{Statistic: nan, PValue: nan},
		EtaKnowledge: nan,
		EtaPractice:  nan,
	}
	edCol, ok := EducationColumn(t, a.schema)
	if !ok {
		a.logger.Warn("maternal education column not found, skipping group comparison")
		return cmp
	}
	cmp.Column = edCol.Name
	kCol, okK := t.Column(domain.ColKnowledgeScore)
	pCol, okP := t.Column(domain.ColPracticeScore)
	if !okK || !okP {
		a.logger.Warn("score columns not found, skipping group comparison")
		return cmp
	}

	// Listwise complete rows: the education level and both scores must
	// all be observed for a respondent to participate.
	type group struct{ knowledge, practice []float64 }
	groups := make(map[string]*group)
	for i := 0; i < t.NumRows(); i++ {
		if edCol.IsMissing(i) {
			continue
		}
		kv, okKV := kCol.Float(i)
		pv, okPV := pCol.Float(i)
		if !okKV || !okPV {
			continue
		}
		level := edCol.Value(i)
		g := groups[level]
		if g == nil {
			g = &group{}
			groups[level] = g
		}
		g.knowledge = append(g.knowledge, kv)
		g.practice = append(g.practice, pv)
		cmp.N++
	}
	if cmp.N == 0 {
		a.logger.Warn("no complete rows for group comparison", "column", edCol.Name)
		return cmp
	}

	levels := make([]string, 0, len(groups))
	for l := range groups {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return LessLevel(levels[i], levels[j]) })

	kGroups := make([][]float64, len(levels))
	pGroups := make([][]float64, len(levels))
	for i, l := range levels {
		g := groups[l]
		kGroups[i] = g.knowledge
		pGroups[i] = g.practice
		mk, sk := meanStd(g.knowledge)
		mp, sp := meanStd(g.practice)
		cmp.Groups = append(cmp.Groups, GroupSummary{
			Level:         l,
			N:             len(g.knowledge),
			MeanKnowledge: mk,
			StdKnowledge:  sk,
			MeanPractice:  mp,
			StdPractice:   sp,
		})
	}
	cmp.EtaKnowledge = EtaSquared(kGroups)
	cmp.EtaPractice = EtaSquared(pGroups)
	if len(levels) < 2 {
		a.logger.Warn("fewer than two education groups, skipping significance tests", "groups", len(levels))
		return cmp
	}

	if f, p, err := OneWayANOVA(kGroups); err == nil {
		cmp.Method = MethodANOVA
		cmp.Knowledge = TestResult{Statistic: f, PValue: p, Significant: significant(p, cmp.Alpha)}
	} else {
		a.logger.Warn("analysis of variance not applicable, falling back to rank test", "reason", err)
		h, p, kwErr := KruskalWallis(kGroups)
		if kwErr != nil {
			a.logger.Warn("rank test failed for knowledge scores", "reason", kwErr)
			cmp.Method = MethodFailed
			return cmp
		}
		cmp.Method = MethodKruskal
		cmp.Knowledge = TestResult{Statistic: h, PValue: p, Significant: significant(p, cmp.Alpha)}
	}

	var stat, p float64
	var err error
	if cmp.Method == MethodANOVA {
		stat, p, err = OneWayANOVA(pGroups)
	} else {
		stat, p, err = KruskalWallis(pGroups)
	}
	if err != nil {
		a.logger.Warn("between-group test failed for practice scores", "reason", err)
		return cmp
	}
	cmp.Practice = TestResult{Statistic: stat, PValue: p, Significant: significant(p, cmp.Alpha)}
	return cmp
}

// FrequencyTable is a named categorical distribution ready for export.
type FrequencyTable struct {
	Name     string
	Variable string
	Rows     []FrequencyRow
}

// DescriptiveRow pairs a variable's output name with its statistics.
type DescriptiveRow struct {
	Variable string
	Descriptive
}

// Demographics bundles the demographic artifacts of the statistics
// stage: frequency tables, continuous summaries, and the parental
// education contingency table when both columns are present.
type Demographics struct {
	Frequencies       []FrequencyTable
	Continuous        []DescriptiveRow
	EducationCrossTab *CrossTab
}

// DemographicSummaries tabulates the demographic profile of the sample.
// Variables missing from the export are skipped quietly; the stage never
// fails on an incomplete questionnaire.
func (a *Analyzer) DemographicSummaries(t *dataset.Table) *Demographics {
	d := &Demographics{}

	categorical := []struct {
		name       string
		configured string
		fallbacks  []string
	}{
		{"age", a.schema.Age, ageFallbacks},
		{"maternal_education", a.schema.MaternalEducation, maternalEducationFallbacks},
		{"paternal_education", a.schema.PaternalEducation, paternalEducationFallbacks},
		{"maternal_occupation", a.schema.MaternalOccupation, maternalOccupationFallbacks},
		{"paternal_occupation", a.schema.PaternalOccupation, paternalOccupationFallbacks},
	}
	for _, spec := range categorical {
		col, ok := ResolveColumn(t, spec.configured, spec.fallbacks...)
		if !ok {
			a.logger.Debug("demographic variable not present", "variable", spec.name)
			continue
		}
		values, miss := columnStrings(col)
		d.Frequencies = append(d.Frequencies, FrequencyTable{
			Name:     spec.name + "_freq",
			Variable: col.Name,
			Rows:     Frequencies(values, miss),
		})
	}

	continuous := []struct {
		name       string
		configured string
		fallbacks  []string
	}{
		{"age", a.schema.Age, ageFallbacks},
		{"income", a.schema.IncomePerMonth, incomeFallbacks},
		{"family_size", domain.ColTotalFamilyMembers, familySizeFallbacks},
		{"per_capita_income", domain.ColPerCapitaIncome, perCapitaFallbacks},
	}
	for _, spec := range continuous {
		col, ok := ResolveColumn(t, spec.configured, spec.fallbacks...)
		if !ok {
			continue
		}
		values, miss := NumericValues(col)
		desc := Describe(values, miss)
		if desc.Count == 0 {
			continue
		}
		d.Continuous = append(d.Continuous, DescriptiveRow{Variable: spec.name, Descriptive: desc})
	}

	mCol, okM := ResolveColumn(t, a.schema.MaternalEducation, maternalEducationFallbacks...)
	pCol, okP := ResolveColumn(t, a.schema.PaternalEducation, paternalEducationFallbacks...)
	if okM && okP {
		mVals, mMiss := columnStrings(mCol)
		pVals, pMiss := columnStrings(pCol)
		ct := Crosstabulate("maternal_education", "paternal_education", mVals, pVals, mMiss, pMiss)
		if ct.Grand > 0 {
			d.EducationCrossTab = ct
		}
	}
	return d
}

type correlationSpec struct {
	name       string
	configured string
	fallbacks  []string
}

func (a *Analyzer) correlationSpecs() []correlationSpec {
	if len(a.cfg.CorrelationVariables) > 0 {
		specs := make([]correlationSpec, 0, len(a.cfg.CorrelationVariables))
		for _, name := range a.cfg.CorrelationVariables {
			specs = append(specs, correlationSpec{name: name, configured: name})
		}
		return specs
	}
	return []correlationSpec{
		{"age", a.schema.Age, ageFallbacks},
		{"income_per_month", a.schema.IncomePerMonth, incomeFallbacks},
		{"total_family_members", domain.ColTotalFamilyMembers, familySizeFallbacks},
		{"per_capita_income", domain.ColPerCapitaIncome, perCapitaFallbacks},
		{"knowledge_score", domain.ColKnowledgeScore, nil},
		{"practice_score", domain.ColPracticeScore, nil},
		{"total_score", domain.ColTotalScore, nil},
	}
}

// Correlations computes the Pearson matrix over the continuous survey
// variables present in the table, or over the configured variable list
// when one is set. Text-coded variables coerce per cell the way the
// descriptive summaries do.
func (a *Analyzer) Correlations(t *dataset.Table) *Matrix {
	var (
		vars  []string
		cols  [][]float64
		masks [][]bool
	)
	for _, spec := range a.correlationSpecs() {
		col, ok := ResolveColumn(t, spec.configured, spec.fallbacks...)
		if !ok {
			continue
		}
		values, miss := NumericValues(col)
		vars = append(vars, spec.name)
		cols = append(cols, values)
		masks = append(masks, miss)
	}
	if len(vars) == 0 {
		a.logger.Warn("no continuous variables available for correlation")
		return &Matrix{}
	}
	m := Correlate(vars, cols, masks, a.cfg.MinCorrelationRows)
	if m.Empty() {
		a.logger.Warn("insufficient complete rows for correlation", "needed", a.cfg.MinCorrelationRows)
	}
	return m
}

// Outliers screens the income variables with the robust z-score and
// returns the flagged rows keyed by variable name.
func (a *Analyzer) Outliers(t *dataset.Table) map[string][]Outlier {
	out := make(map[string][]Outlier)
	specs := []struct {
		name       string
		configured string
		fallbacks  []string
	}{
		{"income", a.schema.IncomePerMonth, incomeFallbacks},
		{"per_capita_income", domain.ColPerCapitaIncome, perCapitaFallbacks},
	}
	for _, spec := range specs {
		col, ok := ResolveColumn(t, spec.configured, spec.fallbacks...)
		if !ok {
			continue
		}
		values, miss := NumericValues(col)
		if flagged := RobustOutliers(values, miss, a.cfg.OutlierThreshold); len(flagged) > 0 {
			out[spec.name] = flagged
		}
	}
	return out
}

// columnStrings renders a column as display strings with its missing
// mask, for the categorical tabulations.
func columnStrings(col *dataset.Column) ([]string, []bool) {
	values := make([]string, col.Len())
	miss := make([]bool, col.Len())
	for i := range values {
		if col.IsMissing(i) {
			miss[i] = true
			continue
		}
		values[i] = col.Value(i)
	}
	return values, miss
}

// NumericValues extracts a column as floats with a missing mask. Text
// cells coerce individually, so a numeric variable exported as text
// still feeds the continuous statistics.
func NumericValues(col *dataset.Column) ([]float64, []bool) {
	values := make([]float64, col.Len())
	miss := make([]bool, col.Len())
	for i := range values {
		if col.IsMissing(i) {
			miss[i] = true
			continue
		}
		if col.Kind == dataset.KindNumeric {
			v, ok := col.Float(i)
			if !ok {
				miss[i] = true
				continue
			}
			values[i] = v
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(col.Strings[i]), 64)
		if err != nil {
			miss[i] = true
			continue
		}
		values[i] = v
	}
	return values, miss
}

func meanStd(values []float64) (mean, std float64) {
	n := len(values)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, math.NaN()
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

func significant(p, alpha float64) bool {
	return !math.IsNaN(p) && p < alpha
}
