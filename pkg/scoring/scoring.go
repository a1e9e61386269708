package scoring

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
)

// Result summarizes what scoring did to the dataset, for logging, the run
// metrics, and the quality footnotes in the report.
type Result struct {
	Records             int
	KnowledgeItemsFound int
	PracticeItemsFound  int
	ZeroFamilyCount     int
	MissingIncomeCount  int
	KnowledgeClamped    int
	PracticeClamped     int
	DroppedColumns      []string
}

// Scorer applies the scoring rules to a loaded table.
type Scorer struct {
	schema domain.Schema
	rules  Rules
	logger *slog.Logger
}

// NewScorer builds a Scorer. A nil logger discards scoring warnings.
func NewScorer(schema domain.Schema, rules Rules, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scorer{schema: schema, rules: rules, logger: logger}
}

// Score appends the derived columns to a copy of the table, in order:
// total_family_members, per_capita_income, knowledge_score,
// practice_score, total_score. The input table is not modified.
func (s *Scorer) Score(t *dataset.Table) (*dataset.Table, *Result, error) {
	if t == nil {
		return nil, nil, fmt.Errorf("score: nil table")
	}

	out, err := dataset.NewTable(t.Columns())
	if err != nil {
		return nil, nil, fmt.Errorf("score: %w", err)
	}
	res := &Result{Records: out.NumRows()}

	famSize := s.deriveFamilySize(out)
	s.derivePerCapitaIncome(out, famSize, res)

	knowledge := s.scoreSection(out, s.rules.Knowledge, domain.KnowledgeScoreMax, "knowledge", res)
	if err := out.AddColumn(dataset.NewNumericColumn(domain.ColKnowledgeScore, knowledge, nil)); err != nil {
		return nil, nil, fmt.Errorf("score: %w", err)
	}

	practice := s.scoreSection(out, s.rules.Practice, domain.PracticeScoreMax, "practice", res)
	if err := out.AddColumn(dataset.NewNumericColumn(domain.ColPracticeScore, practice, nil)); err != nil {
		return nil, nil, fmt.Errorf("score: %w", err)
	}

	total := make([]float64, out.NumRows())
	for i := range total {
		total[i] = knowledge[i] + practice[i]
	}
	if err := out.AddColumn(dataset.NewNumericColumn(domain.ColTotalScore, total, nil)); err != nil {
		return nil, nil, fmt.Errorf("score: %w", err)
	}

	return out, res, nil
}

// deriveFamilySize returns per-row family sizes and ensures the
// total_family_members column exists. An input-provided column wins; when
// deriving, a missing member count contributes zero so partial families
// still get a size.
func (s *Scorer) deriveFamilySize(t *dataset.Table) *dataset.Column {
	if col, ok := t.Column(domain.ColTotalFamilyMembers); ok {
		return col
	}

	male := s.memberColumn(t, s.schema.MaleFamilyMembers, func(n string) bool {
		return strings.Contains(n, "male") && strings.Contains(n, "family") && !strings.Contains(n, "female")
	})
	female := s.memberColumn(t, s.schema.FemaleFamilyMembers, func(n string) bool {
		return strings.Contains(n, "female") && strings.Contains(n, "family")
	})

	size := make([]float64, t.NumRows())
	for i := range size {
		if male != nil {
			if v, ok := male.Float(i); ok {
				size[i] += v
			}
		}
		if female != nil {
			if v, ok := female.Float(i); ok {
				size[i] += v
			}
		}
	}

	col := dataset.NewNumericColumn(domain.ColTotalFamilyMembers, size, nil)
	if err := t.AddColumn(col); err != nil {
		s.logger.Warn("could not append family size column", "error", err)
	}
	return col
}

// memberColumn resolves a family-member count column by schema name first,
// then by fuzzy match over lowercased names.
func (s *Scorer) memberColumn(t *dataset.Table, name string, fuzzy func(string) bool) *dataset.Column {
	if col, ok := t.Column(name); ok {
		return col
	}
	col, ok := t.FindColumn(func(n string) bool { return fuzzy(strings.ToLower(n)) })
	if !ok {
		return nil
	}
	return col
}

// derivePerCapitaIncome appends per_capita_income: monthly income divided
// by family size, rounded to 2 decimals. The cell stays missing when
// income is missing, family size is missing or zero, or income is
// negative. A near-empty pre-existing per-capita column from the export is
// dropped so downstream stages see the derived one.
func (s *Scorer) derivePerCapitaIncome(t *dataset.Table, famSize *dataset.Column, res *Result) {
	s.dropStaleIncomePerCapita(t, res)

	income := s.incomeColumn(t)
	rows := t.NumRows()
	values := make([]float64, rows)
	missing := make([]bool, rows)

	for i := 0; i < rows; i++ {
		var (
			inc, size float64
			incOK     bool
			sizeOK    bool
		)
		if income != nil {
			inc, incOK = income.Float(i)
		}
		if famSize != nil {
			size, sizeOK = famSize.Float(i)
		}

		switch {
		case incOK && sizeOK && size > 0 && inc >= 0:
			values[i] = math.Round(inc/size*100) / 100
		case incOK && sizeOK && size == 0:
			res.ZeroFamilyCount++
			missing[i] = true
		default:
			if !incOK || !sizeOK {
				res.MissingIncomeCount++
			}
			missing[i] = true
		}
	}

	if res.ZeroFamilyCount > 0 {
		s.logger.Warn("division by zero prevented for records with zero family members",
			"records", res.ZeroFamilyCount)
	}
	if res.MissingIncomeCount > 0 {
		s.logger.Warn("per capita income left empty for records with missing income or family size",
			"records", res.MissingIncomeCount)
	}

	if err := t.AddColumn(dataset.NewNumericColumn(domain.ColPerCapitaIncome, values, missing)); err != nil {
		s.logger.Warn("could not append per capita income column", "error", err)
	}
}

// incomeColumn resolves the monthly income column: schema name, then any
// column mentioning income that is not itself a per-capita field.
func (s *Scorer) incomeColumn(t *dataset.Table) *dataset.Column {
	if col, ok := t.Column(s.schema.IncomePerMonth); ok {
		return col
	}
	col, ok := t.FindColumn(func(n string) bool {
		low := strings.ToLower(n)
		return strings.Contains(low, "income") && !strings.Contains(low, "capita")
	})
	if !ok {
		return nil
	}
	return col
}

// dropStaleIncomePerCapita removes an exported per-capita column that is
// over 90% missing. Such columns are placeholder noise in the source files
// and would double-count in the quality scan.
func (s *Scorer) dropStaleIncomePerCapita(t *dataset.Table, res *Result) {
	for _, col := range t.Columns() {
		canon := strings.ReplaceAll(strings.ToLower(col.Name), "_", "")
		if canon != "incomepercapita" || col.Name == s.schema.IncomePerMonth {
			continue
		}
		if rows := t.NumRows(); rows > 0 && float64(col.MissingCount()) > float64(rows)*0.9 {
			t.DropColumn(col.Name)
			res.DroppedColumns = append(res.DroppedColumns, col.Name)
			s.logger.Warn("dropped near-empty per capita column from export", "column", col.Name)
			return
		}
	}
}

// scoreSection computes one composite score: a point per item whose
// response matches the item's correct set, missing responses scoring
// nothing, the sum clamped to [0, upper].
func (s *Scorer) scoreSection(t *dataset.Table, items []ItemRule, upper int, section string, res *Result) []float64 {
	scores := make([]float64, t.NumRows())

	found := 0
	for _, item := range items {
		col, ok := t.Column(item.Column)
		if !ok {
			continue
		}
		found++
		for i := 0; i < col.Len(); i++ {
			v, ok := col.Float(i)
			if !ok {
				continue
			}
			if item.Matches(v) {
				scores[i]++
			}
		}
	}

	switch section {
	case "knowledge":
		res.KnowledgeItemsFound = found
	case "practice":
		res.PracticeItemsFound = found
	}
	if found == 0 {
		s.logger.Warn("no question columns found in dataset, scores default to zero", "section", section)
		return scores
	}

	clamped := 0
	for i, v := range scores {
		if v < 0 {
			scores[i] = 0
			clamped++
		} else if v > float64(upper) {
			scores[i] = float64(upper)
			clamped++
		}
	}
	if clamped > 0 {
		s.logger.Warn("scores outside the valid range were clamped",
			"section", section, "records", clamped)
		switch section {
		case "knowledge":
			res.KnowledgeClamped = clamped
		case "practice":
			res.PracticeClamped = clamped
		}
	}
	return scores
}
