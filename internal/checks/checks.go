// Package checks audits a scored survey table for internal consistency:
// family-size component sums, respondent age bounds, derived score
// ranges, robust income outliers, and the distributional assumptions
// behind the education comparison. Each check yields a pass, fail, or
// skip verdict with details; the validate command renders the verdicts
// and maps any failure to a non-zero exit.
package checks

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
	"github.com/kapstat/kapstat/pkg/stats"
)

// Check verdicts.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Result is one check verdict.
type Result struct {
	Name    string
	Status  string
	Details string
}

// Config tunes the audit bounds. Zero values fall back to the
// adolescent cohort ages 10-19, the robust z cutoff, and alpha 0.05.
type Config struct {
	AgeMin           float64
	AgeMax           float64
	OutlierThreshold float64
	Alpha            float64
}

// Auditor runs the consistency checks against one table.
type Auditor struct {
	schema domain.Schema
	cfg    Config
	logger *slog.Logger
}

// NewAuditor builds an Auditor. A nil logger discards check logging.
func NewAuditor(schema domain.Schema, cfg Config, logger *slog.Logger) *Auditor {
	if cfg.AgeMin == 0 && cfg.AgeMax == 0 {
		cfg.AgeMin, cfg.AgeMax = 10, 19
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = stats.DefaultOutlierThreshold
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = stats.DefaultAlpha
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auditor{schema: schema, cfg: cfg, logger: logger}
}

// Run executes every check, in report order.
func (a *Auditor) Run(t *dataset.Table) []Result {
	levels, knowledge, practice := a.scoreGroups(t)
	results := []Result{
		a.familySize(t),
		a.ageRange(t),
		a.scoreRanges(t),
		a.outlierCheck("income_outliers", a.incomeColumn(t)),
		a.outlierCheck("per_capita_outliers", perCapitaColumn(t)),
		a.varianceHomogeneity(levels, knowledge, practice),
		a.normality(levels, knowledge, practice),
		a.effectSize(levels, knowledge, practice),
	}
	for _, r := range results {
		if r.Status == StatusFail {
			a.logger.Warn("consistency check failed", "check", r.Name, "details", r.Details)
		}
	}
	return results
}

// Failed reports whether any check failed. Skipped checks do not fail
// the audit.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// familySize verifies total_family_members against the male and female
// component columns on every row where all three are observed.
func (a *Auditor) familySize(t *dataset.Table) Result {
	male := findColumn(t, a.schema.MaleFamilyMembers, func(n string) bool {
		return strings.Contains(n, "male") && strings.Contains(n, "family") && !strings.Contains(n, "female")
	})
	female := findColumn(t, a.schema.FemaleFamilyMembers, func(n string) bool {
		return strings.Contains(n, "female") && strings.Contains(n, "family")
	})
	total, _ := t.Column(domain.ColTotalFamilyMembers)
	if male == nil || female == nil || total == nil {
		return Result{"family_size", StatusSkip, "family member columns not present"}
	}

	checked, mismatched := 0, 0
	for i := 0; i < t.NumRows(); i++ {
		m, okM := male.Float(i)
		f, okF := female.Float(i)
		tot, okT := total.Float(i)
		if !okM || !okF || !okT {
			continue
		}
		checked++
		if m+f != tot {
			mismatched++
		}
	}
	if checked == 0 {
		return Result{"family_size", StatusSkip, "no complete rows to verify"}
	}
	if mismatched > 0 {
		return Result{"family_size", StatusFail,
			fmt.Sprintf("%d of %d rows differ from male + female", mismatched, checked)}
	}
	return Result{"family_size", StatusPass, fmt.Sprintf("%d rows consistent", checked)}
}

// ageRange verifies observed respondent ages against the configured
// cohort bounds.
func (a *Auditor) ageRange(t *dataset.Table) Result {
	col := findColumn(t, a.schema.Age, func(n string) bool {
		return strings.Contains(n, "age") && !strings.Contains(n, "menarche")
	})
	if col == nil {
		return Result{"age_range", StatusSkip, "age column not present"}
	}

	checked, outside := 0, 0
	lo, hi := 0.0, 0.0
	for i := 0; i < col.Len(); i++ {
		v, ok := col.Float(i)
		if !ok {
			continue
		}
		if checked == 0 || v < lo {
			lo = v
		}
		if checked == 0 || v > hi {
			hi = v
		}
		checked++
		if v < a.cfg.AgeMin || v > a.cfg.AgeMax {
			outside++
		}
	}
	if checked == 0 {
		return Result{"age_range", StatusSkip, "no observed ages"}
	}
	if outside > 0 {
		return Result{"age_range", StatusFail,
			fmt.Sprintf("%d of %d ages outside [%g, %g], observed %g-%g",
				outside, checked, a.cfg.AgeMin, a.cfg.AgeMax, lo, hi)}
	}
	return Result{"age_range", StatusPass,
		fmt.Sprintf("observed %g-%g within [%g, %g]", lo, hi, a.cfg.AgeMin, a.cfg.AgeMax)}
}

// scoreRanges verifies the derived scores stay in their declared ranges
// and that total_score is the sum of its parts.
func (a *Auditor) scoreRanges(t *dataset.Table) Result {
	kCol, okK := t.Column(domain.ColKnowledgeScore)
	pCol, okP := t.Column(domain.ColPracticeScore)
	tCol, okT := t.Column(domain.ColTotalScore)
	if !okK || !okP || !okT {
		return Result{"score_ranges", StatusSkip, "derived score columns not present"}
	}

	violations := 0
	for i := 0; i < t.NumRows(); i++ {
		k, okKV := kCol.Float(i)
		p, okPV := pCol.Float(i)
		tot, okTV := tCol.Float(i)
		if okKV && (k < 0 || k > domain.KnowledgeScoreMax) {
			violations++
		}
		if okPV && (p < 0 || p > domain.PracticeScoreMax) {
			violations++
		}
		if okKV && okPV && okTV && tot != k+p {
			violations++
		}
	}
	if violations > 0 {
		return Result{"score_ranges", StatusFail,
			fmt.Sprintf("%d violations in %d rows", violations, t.NumRows())}
	}
	return Result{"score_ranges", StatusPass,
		fmt.Sprintf("knowledge 0-%d, practice 0-%d, total additive over %d rows",
			domain.KnowledgeScoreMax, domain.PracticeScoreMax, t.NumRows())}
}

// outlierCheck screens one income variable with the modified z-score.
func (a *Auditor) outlierCheck(name string, col *dataset.Column) Result {
	if col == nil {
		return Result{name, StatusSkip, "column not present"}
	}
	values, miss := stats.NumericValues(col)
	flagged := stats.RobustOutliers(values, miss, a.cfg.OutlierThreshold)
	if len(flagged) == 0 {
		return Result{name, StatusPass,
			fmt.Sprintf("no values beyond |z| %g in %s", a.cfg.OutlierThreshold, col.Name)}
	}

	samples := make([]string, 0, 5)
	for _, o := range flagged {
		if len(samples) == 5 {
			samples = append(samples, "...")
			break
		}
		samples = append(samples, strconv.FormatFloat(o.Value, 'g', -1, 64))
	}
	return Result{name, StatusFail,
		fmt.Sprintf("%d values beyond |z| %g in %s: %s",
			len(flagged), a.cfg.OutlierThreshold, col.Name, strings.Join(samples, ", "))}
}

// varianceHomogeneity runs Levene's test on both scores across the
// education groups. A rejection means the comparison's equal-variance
// assumption does not hold.
func (a *Auditor) varianceHomogeneity(levels []string, knowledge, practice [][]float64) Result {
	const name = "variance_homogeneity"
	if len(levels) < 2 {
		return Result{name, StatusSkip, "fewer than two education groups"}
	}
	kW, kP, errK := stats.Levene(knowledge)
	pW, pP, errP := stats.Levene(practice)
	if errK != nil || errP != nil {
		return Result{name, StatusSkip, "too few observations for the variance test"}
	}
	details := fmt.Sprintf("knowledge W=%.4f p=%.4f, practice W=%.4f p=%.4f", kW, kP, pW, pP)
	if kP < a.cfg.Alpha || pP < a.cfg.Alpha {
		return Result{name, StatusFail, "variances differ across education levels: " + details}
	}
	return Result{name, StatusPass, details}
}

// normality screens the group-centered score residuals with the
// Jarque-Bera statistic, the analogue of testing the comparison
// model's residuals.
func (a *Auditor) normality(levels []string, knowledge, practice [][]float64) Result {
	const name = "normality"
	if len(levels) < 2 {
		return Result{name, StatusSkip, "fewer than two education groups"}
	}
	kJB, kP, errK := stats.JarqueBera(centered(knowledge))
	pJB, pP, errP := stats.JarqueBera(centered(practice))
	if errK != nil || errP != nil {
		return Result{name, StatusSkip, "residual sample too small or constant"}
	}
	details := fmt.Sprintf("knowledge JB=%.4f p=%.4f, practice JB=%.4f p=%.4f", kJB, kP, pJB, pP)
	if kP < a.cfg.Alpha || pP < a.cfg.Alpha {
		return Result{name, StatusFail, "score residuals depart from normality: " + details}
	}
	return Result{name, StatusPass, details}
}

// effectSize reports eta-squared for both scores. The check is
// informational and only fails to a skip when nothing is estimable.
func (a *Auditor) effectSize(levels []string, knowledge, practice [][]float64) Result {
	const name = "effect_size"
	if len(levels) < 2 {
		return Result{name, StatusSkip, "fewer than two education groups"}
	}
	kEta := stats.EtaSquared(knowledge)
	pEta := stats.EtaSquared(practice)
	kLabel := stats.EffectSizeLabel(kEta)
	pLabel := stats.EffectSizeLabel(pEta)
	if kLabel == "Not estimable" && pLabel == "Not estimable" {
		return Result{name, StatusSkip, "effect size not estimable"}
	}
	return Result{name, StatusPass,
		fmt.Sprintf("knowledge eta2=%.4f (%s), practice eta2=%.4f (%s)", kEta, kLabel, pEta, pLabel)}
}

// scoreGroups collects the listwise-complete score values per maternal
// education level, in level order. Missing columns yield nil groups and
// the dependent checks skip.
func (a *Auditor) scoreGroups(t *dataset.Table) (levels []string, knowledge, practice [][]float64) {
	edCol, ok := stats.EducationColumn(t, a.schema)
	if !ok {
		return nil, nil, nil
	}
	kCol, okK := t.Column(domain.ColKnowledgeScore)
	pCol, okP := t.Column(domain.ColPracticeScore)
	if !okK || !okP {
		return nil, nil, nil
	}

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
	}

	for l := range groups {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return stats.LessLevel(levels[i], levels[j]) })
	for _, l := range levels {
		knowledge = append(knowledge, groups[l].knowledge)
		practice = append(practice, groups[l].practice)
	}
	return levels, knowledge, practice
}

func (a *Auditor) incomeColumn(t *dataset.Table) *dataset.Column {
	return findColumn(t, a.schema.IncomePerMonth, func(n string) bool {
		return strings.Contains(n, "income") && !strings.Contains(n, "capita")
	})
}

func perCapitaColumn(t *dataset.Table) *dataset.Column {
	return findColumn(t, domain.ColPerCapitaIncome, func(n string) bool {
		return strings.Contains(n, "capita")
	})
}

// findColumn resolves by the configured name first, then by a fuzzy
// match over lowercased names, the way exports with re-keyed headers
// are handled elsewhere.
func findColumn(t *dataset.Table, configured string, fuzzy func(string) bool) *dataset.Column {
	if col, ok := t.Column(configured); ok {
		return col
	}
	col, ok := t.FindColumn(func(n string) bool { return fuzzy(strings.ToLower(n)) })
	if !ok {
		return nil
	}
	return col
}

// centered concatenates each group's deviations from its own mean,
// forming the residual sample of the one-way comparison.
func centered(groups [][]float64) []float64 {
	var out []float64
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		var sum float64
		for _, v := range g {
			sum += v
		}
		mean := sum / float64(len(g))
		for _, v := range g {
			out = append(out, v-mean)
		}
	}
	return out
}
