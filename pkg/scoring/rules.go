// Package scoring derives the composite respondent scores: family size,
// per-capita income, knowledge (0-9), practice (0-7), and total (0-16).
package scoring

import (
	"fmt"

	"github.com/kapstat/kapstat/pkg/domain"
)

// ItemRule scores one questionnaire item: a response earns one point when
// it equals any value in Correct.
type ItemRule struct {
	Column  string
	Correct []float64
}

// Matches reports whether a response code earns the item's point.
func (r ItemRule) Matches(response float64) bool {
	for _, c := range r.Correct {
		if response == c {
			return true
		}
	}
	return false
}

// Rules holds the per-item scoring rules for both questionnaire sections.
type Rules struct {
	Knowledge []ItemRule
	Practice  []ItemRule
}

// Default correct-response codes, in questionnaire order. The awareness
// items Q6 and Q7 accept any coded option (the point rewards knowing the
// options exist); the rest have a single correct code.
var (
	defaultKnowledgeCorrect = [][]float64{
		{2},               // usual age range of menarche: 10-14 years
		{2},               // menstruation is a physiological process
		{3},               // organ responsible: uterus
		{4},               // normal bleeding duration: 3-7 days
		{3},               // cycle length: 28 days
		{1, 2, 3, 4, 5},   // absorbent types awareness
		{1, 2, 3, 4},      // change frequency awareness
		{1},               // dispose wrapped in paper
		{2},               // dispose in dustbin
	}
	defaultPracticeCorrect = [][]float64{
		{1, 2, 3, 4, 5},   // uses some absorbent
		{1},               // wraps pad in paper
		{1},               // disposes in dustbin
		{1, 2, 3, 4},      // changes absorbent at all
		{1},               // bathes daily
		{1},               // washes external genitalia with water
		{1},               // washes hands with soap afterwards
	}
)

// DefaultRules pairs the schema's item columns with the default correct
// codes.
func DefaultRules(schema domain.Schema) (Rules, error) {
	return buildRules(schema, nil)
}

// RulesWithOverrides builds rules from the schema, replacing the correct
// set of any column present in overrides. Unknown override columns are
// rejected so configuration typos fail loudly.
func RulesWithOverrides(schema domain.Schema, overrides map[string][]float64) (Rules, error) {
	return buildRules(schema, overrides)
}

func buildRules(schema domain.Schema, overrides map[string][]float64) (Rules, error) {
	if len(schema.KnowledgeItems) != len(defaultKnowledgeCorrect) {
		return Rules{}, fmt.Errorf("%w: schema has %d knowledge items, want %d",
			domain.ErrConfigInvalid, len(schema.KnowledgeItems), len(defaultKnowledgeCorrect))
	}
	if len(schema.PracticeItems) != len(defaultPracticeCorrect) {
		return Rules{}, fmt.Errorf("%w: schema has %d practice items, want %d",
			domain.ErrConfigInvalid, len(schema.PracticeItems), len(defaultPracticeCorrect))
	}

	known := make(map[string]bool, len(schema.KnowledgeItems)+len(schema.PracticeItems))
	rules := Rules{
		Knowledge: make([]ItemRule, len(schema.KnowledgeItems)),
		Practice:  make([]ItemRule, len(schema.PracticeItems)),
	}
	for i, col := range schema.KnowledgeItems {
		rules.Knowledge[i] = ItemRule{Column: col, Correct: correctSet(col, defaultKnowledgeCorrect[i], overrides)}
		known[col] = true
	}
	for i, col := range schema.PracticeItems {
		rules.Practice[i] = ItemRule{Column: col, Correct: correctSet(col, defaultPracticeCorrect[i], overrides)}
		known[col] = true
	}

	for col := range overrides {
		if !known[col] {
			return Rules{}, fmt.Errorf("%w: scoring override for unknown item column %q", domain.ErrConfigInvalid, col)
		}
	}
	return rules, nil
}

func correctSet(col string, def []float64, overrides map[string][]float64) []float64 {
	if overrides != nil {
		if set, ok := overrides[col]; ok && len(set) > 0 {
			out := make([]float64, len(set))
			copy(out, set)
			return out
		}
	}
	out := make([]float64, len(def))
	copy(out, def)
	return out
}
