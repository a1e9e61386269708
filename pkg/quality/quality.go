// Package quality detects and reports data quality issues in a survey
// table: missing cells, out-of-range or disallowed values, and optional
// Rego policy violations. The assessment never fails the pipeline; it
// degrades to warnings and a partial report.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
)

// Issue type labels carried in the findings CSVs.
const (
	IssueMissing      = "Missing Value"
	IssueBelowMin     = "Out of Range (Below Minimum)"
	IssueAboveMax     = "Out of Range (Above Maximum)"
	IssueInvalidValue = "Invalid Value"
	IssuePolicy       = "Policy Violation"
)

// Finding is one data quality issue anchored to a cell (or to a whole
// record for policy violations). Row is 1-based for readability in the
// exported reports.
type Finding struct {
	Row      int
	Variable string
	Issue    string
	Value    string
	Details  string
}

// Rule bounds one variable. Nil bounds are unchecked; a non-nil Allowed
// set restricts the variable to those numeric codes.
type Rule struct {
	Column  string    `yaml:"column"`
	Min     *float64  `yaml:"min,omitempty"`
	Max     *float64  `yaml:"max,omitempty"`
	Allowed []float64 `yaml:"values,omitempty"`
}

// DefaultRules derives validation rules from the table's column names:
// age-like columns bounded to [0, 120], income columns non-negative,
// family member counts to [0, 100], and the derived scores to their
// declared ranges.
func DefaultRules(t *dataset.Table) []Rule {
	var rules []Rule
	bound := func(v float64) *float64 { return &v }
	for _, name := range t.ColumnNames() {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "age"):
			rules = append(rules, Rule{Column: name, Min: bound(0), Max: bound(120)})
		case strings.Contains(lower, "income"):
			rules = append(rules, Rule{Column: name, Min: bound(0)})
		case strings.Contains(lower, "family") && strings.Contains(lower, "member"):
			rules = append(rules, Rule{Column: name, Min: bound(0), Max: bound(100)})
		}
	}
	scoreBounds := []struct {
		col string
		max float64
	}{
		{domain.ColKnowledgeScore, domain.KnowledgeScoreMax},
		{domain.ColPracticeScore, domain.PracticeScoreMax},
		{domain.ColTotalScore, domain.TotalScoreMax},
	}
	for _, s := range scoreBounds {
		if t.HasColumn(s.col) {
			rules = append(rules, Rule{Column: s.col, Min: bound(0), Max: bound(s.max)})
		}
	}
	return rules
}

// ScanMissing reports every missing cell, column by column in table
// order.
func ScanMissing(t *dataset.Table) []Finding {
	var findings []Finding
	for _, col := range t.Columns() {
		for i := 0; i < col.Len(); i++ {
			if !col.IsMissing(i) {
				continue
			}
			findings = append(findings, Finding{
				Row:      i + 1,
				Variable: col.Name,
				Issue:    IssueMissing,
				Value:    "NaN",
				Details:  fmt.Sprintf("Missing value in column %q", col.Name),
			})
		}
	}
	return findings
}

// ScanInvalid applies the rules to the observed cells. Bound checks
// skip cells that do not parse as numbers; the allowed-set check flags
// them, since a non-numeric response can never be a valid code.
func ScanInvalid(t *dataset.Table, rules []Rule) []Finding {
	var findings []Finding
	for _, rule := range rules {
		col, ok := t.Column(rule.Column)
		if !ok {
			continue
		}
		if rule.Min != nil {
			for i := 0; i < col.Len(); i++ {
				v, ok := cellNumber(col, i)
				if !ok || v >= *rule.Min {
					continue
				}
				findings = append(findings, Finding{
					Row:      i + 1,
					Variable: col.Name,
					Issue:    IssueBelowMin,
					Value:    col.Value(i),
					Details:  fmt.Sprintf("Value %s is below minimum %g", col.Value(i), *rule.Min),
				})
			}
		}
		if rule.Max != nil {
			for i := 0; i < col.Len(); i++ {
				v, ok := cellNumber(col, i)
				if !ok || v <= *rule.Max {
					continue
				}
				findings = append(findings, Finding{
					Row:      i + 1,
					Variable: col.Name,
					Issue:    IssueAboveMax,
					Value:    col.Value(i),
					Details:  fmt.Sprintf("Value %s is above maximum %g", col.Value(i), *rule.Max),
				})
			}
		}
		if rule.Allowed != nil {
			for i := 0; i < col.Len(); i++ {
				if col.IsMissing(i) {
					continue
				}
				v, ok := cellNumber(col, i)
				if ok && inSet(v, rule.Allowed) {
					continue
				}
				findings = append(findings, Finding{
					Row:      i + 1,
					Variable: col.Name,
					Issue:    IssueInvalidValue,
					Value:    col.Value(i),
					Details:  fmt.Sprintf("Value %s is not in valid set %v", col.Value(i), rule.Allowed),
				})
			}
		}
	}
	return findings
}

// cellNumber reads a cell as a number, coercing text cells the way the
// numeric stages do. Missing and unparseable cells report false.
func cellNumber(col *dataset.Column, i int) (float64, bool) {
	if col.IsMissing(i) {
		return 0, false
	}
	if col.Kind == dataset.KindNumeric {
		return col.Float(i)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(col.Strings[i]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func inSet(v float64, set []float64) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Summary aggregates an assessment for the quality report.
type Summary struct {
	TotalRows         int
	TotalColumns      int
	TotalCells        int
	MissingCount      int
	InvalidCount      int
	PolicyCount       int
	TotalIssues       int
	QualityPercentage float64
	AffectedRows      int
	AffectedColumns   int
}

// Report bundles the findings and summary of one assessment.
type Report struct {
	Missing  []Finding
	Invalid  []Finding
	Policy   []Finding
	Summary  Summary
	Warnings []string
}

// Checker runs the data quality assessment over a table. Rules default
// per DefaultRules when none are configured; the policy evaluator is
// optional.
type Checker struct {
	rules  []Rule
	policy *PolicyEvaluator
	logger *slog.Logger
}

// NewChecker builds a checker. A nil logger discards.
func NewChecker(rules []Rule, policy *PolicyEvaluator, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{rules: rules, policy: policy, logger: logger}
}

// Assess scans the table for missing, invalid, and policy-denied values
// and aggregates the summary. Policy evaluation errors degrade to
// warnings on the report, never to a failure.
func (c *Checker) Assess(ctx context.Context, t *dataset.Table) *Report {
	rules := c.rules
	if len(rules) == 0 {
		rules = DefaultRules(t)
	}
	r := &Report{
		Missing: ScanMissing(t),
		Invalid: ScanInvalid(t, rules),
	}
	if len(r.Missing) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"Found %d missing values across %d variables", len(r.Missing), distinctVariables(r.Missing)))
	}
	if len(r.Invalid) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"Found %d invalid values across %d variables", len(r.Invalid), distinctVariables(r.Invalid)))
	}
	if c.policy != nil {
		r.Policy = c.evaluatePolicy(ctx, t, r)
		if len(r.Policy) > 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("Found %d policy violations", len(r.Policy)))
		}
	}

	s := &r.Summary
	s.TotalRows = t.NumRows()
	s.TotalColumns = t.NumCols()
	s.TotalCells = s.TotalRows * s.TotalColumns
	s.MissingCount = len(r.Missing)
	s.InvalidCount = len(r.Invalid)
	s.PolicyCount = len(r.Policy)
	s.TotalIssues = s.MissingCount + s.InvalidCount + s.PolicyCount
	if s.TotalCells > 0 {
		pct := float64(s.TotalCells-s.TotalIssues) / float64(s.TotalCells) * 100
		s.QualityPercentage = roundTo(pct, 2)
	}
	s.AffectedRows = distinctRows(r.Missing, r.Invalid, r.Policy)
	s.AffectedColumns = distinctColumns(r.Missing, r.Invalid)

	c.logger.Info("data quality assessed",
		"missing", s.MissingCount,
		"invalid", s.InvalidCount,
		"policy", s.PolicyCount,
		"quality_pct", s.QualityPercentage)
	return r
}

// evaluatePolicy runs the Rego policy record by record, turning deny
// messages into findings.
func (c *Checker) evaluatePolicy(ctx context.Context, t *dataset.Table, r *Report) []Finding {
	var findings []Finding
	cols := t.Columns()
	for i := 0; i < t.NumRows(); i++ {
		record := make(map[string]any, len(cols))
		for _, col := range cols {
			if col.IsMissing(i) {
				record[col.Name] = nil
				continue
			}
			if v, ok := col.Float(i); ok {
				record[col.Name] = v
				continue
			}
			record[col.Name] = col.Value(i)
		}
		msgs, err := c.policy.EvaluateRecord(ctx, i+1, record)
		if err != nil {
			c.logger.Warn("policy evaluation failed for record", "row", i+1, "err", err)
			r.Warnings = append(r.Warnings, fmt.Sprintf("Policy evaluation failed for row %d: %v", i+1, err))
			continue
		}
		for _, msg := range msgs {
			findings = append(findings, Finding{
				Row:      i + 1,
				Variable: "policy",
				Issue:    IssuePolicy,
				Details:  msg,
			})
		}
	}
	return findings
}

func distinctVariables(findings []Finding) int {
	set := make(map[string]struct{})
	for _, f := range findings {
		set[f.Variable] = struct{}{}
	}
	return len(set)
}

func distinctRows(groups ...[]Finding) int {
	set := make(map[int]struct{})
	for _, fs := range groups {
		for _, f := range fs {
			set[f.Row] = struct{}{}
		}
	}
	return len(set)
}

func distinctColumns(groups ...[]Finding) int {
	set := make(map[string]struct{})
	for _, fs := range groups {
		for _, f := range fs {
			set[f.Variable] = struct{}{}
		}
	}
	return len(set)
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return math.Round(v*shift) / shift
}

// SortFindings orders findings by row then variable for deterministic
// exports.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Row != findings[j].Row {
			return findings[i].Row < findings[j].Row
		}
		return findings[i].Variable < findings[j].Variable
	})
}
