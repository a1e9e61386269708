package output

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/stats"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestWriteTableCSV(t *testing.T) {
	age := dataset.NewNumericColumn("Age", []float64{12, 0}, []bool{false, true})
	name := dataset.NewTextColumn("Name", []string{"Ali", "Sara"}, nil)
	tab, err := dataset.NewTable([]*dataset.Column{age, name})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	path := filepath.Join(t.TempDir(), "table.csv")
	if err := WriteTableCSV(path, tab); err != nil {
		t.Fatalf("WriteTableCSV: %v", err)
	}
	want := "Age,Name\n12,Ali\n,Sara\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("table CSV = %q, want %q", got, want)
	}
}

func TestWriteFrequencyCSV(t *testing.T) {
	ft := stats.FrequencyTable{
		Name:     "maternal_education_freq",
		Variable: "Mother_Education",
		Rows: []stats.FrequencyRow{
			{Value: "Primary", Count: 4, Percentage: 66.67, Proportion: 0.6667},
			{Value: "Secondary", Count: 2, Percentage: 33.33, Proportion: 0.3333},
		},
	}

	path := filepath.Join(t.TempDir(), "freq.csv")
	if err := WriteFrequencyCSV(path, ft); err != nil {
		t.Fatalf("WriteFrequencyCSV: %v", err)
	}
	want := "maternal_education,count,percentage,proportion\nPrimary,4,66.67,0.6667\nSecondary,2,33.33,0.3333\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("frequency CSV = %q, want %q", got, want)
	}
}

func TestWriteContinuousCSV(t *testing.T) {
	rows := []stats.DescriptiveRow{
		{
			Variable: "age",
			Descriptive: stats.Descriptive{
				Count: 6, Mean: 13.5, Median: 13, Std: 0.5,
				Min: 13, Max: 14, Q25: 13, Q75: 14,
			},
		},
	}

	path := filepath.Join(t.TempDir(), "continuous.csv")
	if err := WriteContinuousCSV(path, rows); err != nil {
		t.Fatalf("WriteContinuousCSV: %v", err)
	}
	want := "variable,count,mean,median,std,min,max,q25,q75\nage,6,13.5,13,0.5,13,14,13,14\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("continuous CSV = %q, want %q", got, want)
	}
}

func TestWriteCrossTabCSV(t *testing.T) {
	ct := &stats.CrossTab{
		RowVar:    "maternal_education",
		ColVar:    "paternal_education",
		RowLevels: []string{"Primary", "Secondary"},
		ColLevels: []string{"Middle", "Primary"},
		Counts:    [][]int{{2, 1}, {0, 3}},
		RowTotals: []int{3, 3},
		ColTotals: []int{2, 4},
		Grand:     6,
	}

	path := filepath.Join(t.TempDir(), "crosstab.csv")
	if err := WriteCrossTabCSV(path, ct); err != nil {
		t.Fatalf("WriteCrossTabCSV: %v", err)
	}
	want := "maternal_education,Middle,Primary,Total\nPrimary,2,1,3\nSecondary,0,3,3\nTotal,2,4,6\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("crosstab CSV = %q, want %q", got, want)
	}
}

func TestWriteMatrixCSV(t *testing.T) {
	m := &stats.Matrix{
		Vars: []string{"age", "knowledge_score"},
		R: [][]float64{
			{1, 0.45},
			{0.45, math.NaN()},
		},
		N: 6,
	}

	path := filepath.Join(t.TempDir(), "matrix.csv")
	if err := WriteMatrixCSV(path, m); err != nil {
		t.Fatalf("WriteMatrixCSV: %v", err)
	}
	want := ",age,knowledge_score\nage,1,0.45\nknowledge_score,0.45,\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("matrix CSV = %q, want %q", got, want)
	}
}

func TestWriteComparisonCSV(t *testing.T) {
	cmp := &stats.Comparison{
		Groups: []stats.GroupSummary{
			{Level: "Primary", N: 3, MeanKnowledge: 4, StdKnowledge: 1, MeanPractice: 3, StdPractice: 1.5},
		},
	}

	path := filepath.Join(t.TempDir(), "summary.csv")
	if err := WriteComparisonCSV(path, cmp); err != nil {
		t.Fatalf("WriteComparisonCSV: %v", err)
	}
	want := "education_level,n,mean_knowledge,std_knowledge,mean_practice,std_practice\nPrimary,3,4,1,3,1.5\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("comparison CSV = %q, want %q", got, want)
	}
}
