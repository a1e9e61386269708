package checks

import (
	"testing"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
)

func auditTable(t *testing.T, cols ...*dataset.Column) *dataset.Table {
	t.Helper()
	tab, err := dataset.NewTable(cols)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tab
}

func resultByName(t *testing.T, results []Result, name string) Result {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result named %q in %+v", name, results)
	return Result{}
}

// scoredFixture builds a consistent six-respondent scored table with
// two education groups.
func scoredFixture(t *testing.T) *dataset.Table {
	return auditTable(t,
		dataset.NewNumericColumn("Age", []float64{12, 13, 12, 14, 15, 14}, nil),
		dataset.NewTextColumn("MotherEducation", []string{"Primary", "Primary", "Primary", "Secondary", "Secondary", "Secondary"}, nil),
		dataset.NewNumericColumn("IncomePerMonth", []float64{9000, 10000, 9500, 15000, 14000, 16000}, nil),
		dataset.NewNumericColumn("MaleFamilyMembers", []float64{2, 1, 2, 1, 2, 1}, nil),
		dataset.NewNumericColumn("FemaleFamilyMembers", []float64{3, 2, 2, 1, 1, 2}, nil),
		dataset.NewNumericColumn(domain.ColTotalFamilyMembers, []float64{5, 3, 4, 2, 3, 3}, nil),
		dataset.NewNumericColumn(domain.ColPerCapitaIncome, []float64{1800, 3333.33, 2375, 7500, 4666.67, 5333.33}, nil),
		dataset.NewNumericColumn(domain.ColKnowledgeScore, []float64{2, 3, 2, 9, 8, 9}, nil),
		dataset.NewNumericColumn(domain.ColPracticeScore, []float64{2, 3, 2, 7, 7, 6}, nil),
		dataset.NewNumericColumn(domain.ColTotalScore, []float64{4, 6, 4, 16, 15, 15}, nil),
	)
}

func TestAuditorAllChecksPass(t *testing.T) {
	a := NewAuditor(domain.DefaultSchema(), Config{}, nil)
	results := a.Run(scoredFixture(t))

	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	if Failed(results) {
		t.Fatalf("audit failed: %+v", results)
	}
	for _, r := range results {
		if r.Status != StatusPass {
			t.Fatalf("%s = %s (%s), want PASS", r.Name, r.Status, r.Details)
		}
		if r.Details == "" {
			t.Fatalf("%s has empty details", r.Name)
		}
	}
}

func TestAuditorFlagsViolations(t *testing.T) {
	tab := auditTable(t,
		dataset.NewNumericColumn("Age", []float64{12, 25, 13, 14, 15, 14, 13, 12}, nil),
		dataset.NewTextColumn("MotherEducation", []string{"Primary", "Primary", "Primary", "Primary", "Secondary", "Secondary", "Secondary", "Secondary"}, nil),
		dataset.NewNumericColumn("IncomePerMonth", []float64{1000, 1100, 1050, 1000, 1200, 1100, 1000, 90000}, nil),
		dataset.NewNumericColumn("MaleFamilyMembers", []float64{2, 1, 2, 1, 2, 1, 2, 1}, nil),
		dataset.NewNumericColumn("FemaleFamilyMembers", []float64{3, 2, 2, 1, 1, 2, 3, 2}, nil),
		// Row 1 total disagrees with 1 + 2.
		dataset.NewNumericColumn(domain.ColTotalFamilyMembers, []float64{5, 9, 4, 2, 3, 3, 5, 3}, nil),
		// Row 0 knowledge exceeds the 0-9 range and breaks the total sum.
		dataset.NewNumericColumn(domain.ColKnowledgeScore, []float64{12, 3, 2, 4, 9, 8, 9, 7}, nil),
		dataset.NewNumericColumn(domain.ColPracticeScore, []float64{2, 3, 2, 3, 7, 7, 6, 5}, nil),
		dataset.NewNumericColumn(domain.ColTotalScore, []float64{4, 6, 4, 7, 16, 15, 15, 12}, nil),
	)
	a := NewAuditor(domain.DefaultSchema(), Config{}, nil)
	results := a.Run(tab)

	if !Failed(results) {
		t.Fatalf("audit should fail: %+v", results)
	}
	for _, name := range []string{"family_size", "age_range", "score_ranges", "income_outliers"} {
		if r := resultByName(t, results, name); r.Status != StatusFail {
			t.Fatalf("%s = %s (%s), want FAIL", r.Name, r.Status, r.Details)
		}
	}
}

func TestAuditorSkipsWithoutColumns(t *testing.T) {
	tab := auditTable(t,
		dataset.NewNumericColumn("Age", []float64{12, 13, 14}, nil),
	)
	a := NewAuditor(domain.DefaultSchema(), Config{}, nil)
	results := a.Run(tab)

	if Failed(results) {
		t.Fatalf("skips must not fail the audit: %+v", results)
	}
	for _, name := range []string{"family_size", "score_ranges", "income_outliers", "per_capita_outliers", "variance_homogeneity", "normality", "effect_size"} {
		if r := resultByName(t, results, name); r.Status != StatusSkip {
			t.Fatalf("%s = %s, want SKIP", r.Name, r.Status)
		}
	}
	if r := resultByName(t, results, "age_range"); r.Status != StatusPass {
		t.Fatalf("age_range = %s, want PASS", r.Status)
	}
}

func TestAuditorConfigurableAgeBounds(t *testing.T) {
	tab := auditTable(t,
		dataset.NewNumericColumn("Age", []float64{8, 9, 10}, nil),
	)
	a := NewAuditor(domain.DefaultSchema(), Config{AgeMin: 5, AgeMax: 12}, nil)
	if r := resultByName(t, a.Run(tab), "age_range"); r.Status != StatusPass {
		t.Fatalf("age_range = %s (%s), want PASS with widened bounds", r.Status, r.Details)
	}

	strict := NewAuditor(domain.DefaultSchema(), Config{}, nil)
	if r := resultByName(t, strict.Run(tab), "age_range"); r.Status != StatusFail {
		t.Fatalf("age_range = %s, want FAIL with default bounds", r.Status)
	}
}

func TestAuditorVarianceHomogeneityFails(t *testing.T) {
	// Knowledge spread differs wildly between the groups; practice is
	// comparable, so the single rejection must fail the check.
	tab := auditTable(t,
		dataset.NewTextColumn("MotherEducation", []string{"Primary", "Primary", "Primary", "Primary", "Primary", "Primary", "Secondary", "Secondary", "Secondary", "Secondary", "Secondary", "Secondary"}, nil),
		dataset.NewNumericColumn(domain.ColKnowledgeScore, []float64{0, 9, 0, 9, 0, 8, 4, 4, 4.5, 4.5, 4, 5}, nil),
		dataset.NewNumericColumn(domain.ColPracticeScore, []float64{3, 3, 3.5, 3.5, 3, 4, 4, 4, 4.5, 4.5, 4, 5}, nil),
	)
	a := NewAuditor(domain.DefaultSchema(), Config{}, nil)
	if r := resultByName(t, a.Run(tab), "variance_homogeneity"); r.Status != StatusFail {
		t.Fatalf("variance_homogeneity = %s (%s), want FAIL", r.Status, r.Details)
	}
}

func TestFailed(t *testing.T) {
	if Failed([]Result{{Status: StatusPass}, {Status: StatusSkip}}) {
		t.Fatalf("pass and skip must not fail")
	}
	if !Failed([]Result{{Status: StatusPass}, {Status: StatusFail}}) {
		t.Fatalf("one failure must fail the audit")
	}
}
