package stats

import (
	"math"
	"sort"
	"strconv"
)

// Descriptive summarizes a numeric variable. Count is the number of
// observed values; the moments and quantiles are computed over those
// alone. With no observations every field except Count is NaN.
type Descriptive struct {
	Count  int
	Mean   float64
	Median float64
	Std    float64
	Min    float64
	Max    float64
	Q25    float64
	Q75    float64
}

// Describe computes summary statistics in a single pass using Welford's
// update for the mean and variance, then sorts the observed values for
// the quantiles. missing may be nil when every value is observed; NaN
// values are treated as missing either way. The standard deviation uses
// the n-1 denominator and is NaN for fewer than two observations.
func Describe(values []float64, missing []bool) Descriptive {
	var (
		n    int
		mean float64
		m2   float64
	)
	obs := make([]float64, 0, len(values))
	for i, v := range values {
		if missing != nil && i < len(missing) && missing[i] {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		n++
		delta := v - mean
		mean += delta / float64(n)
		m2 += delta * (v - mean)
		obs = append(obs, v)
	}
	if n == 0 {
		nan := math.NaN()
		return Descriptive{Mean: nan, Median: nan, Std: nan, Min: nan, Max: nan, Q25: nan, Q75: nan}
	}
	sort.Float64s(obs)
	std := math.NaN()
	if n > 1 {
		std = math.Sqrt(m2 / float64(n-1))
	}
	return Descriptive{
		Count:  n,
		Mean:   mean,
		Median: Quantile(obs, 0.5),
		Std:    std,
		Min:    obs[0],
		Max:    obs[n-1],
		Q25:    Quantile(obs, 0.25),
		Q75:    Quantile(obs, 0.75),
	}
}

// Quantile returns the q-th quantile (0 <= q <= 1) of an ascending
// sorted slice, interpolating linearly between the two closest order
// statistics. An empty slice yields NaN.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= n {
		return sorted[n-1]
	}
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// FrequencyRow is one level of a categorical frequency table.
// Percentage is out of the observed rows, rounded to two decimals;
// Proportion is the same ratio rounded to four.
type FrequencyRow struct {
	Value      string
	Count      int
	Percentage float64
	Proportion float64
}

// Frequencies tabulates the observed values of a categorical column,
// sorted by descending count with ties broken by value. Missing cells
// count toward neither the rows nor the denominator.
func Frequencies(values []string, missing []bool) []FrequencyRow {
	counts := make(map[string]int)
	total := 0
	for i, v := range values {
		if missing != nil && i < len(missing) && missing[i] {
			continue
		}
		counts[v]++
		total++
	}
	if total == 0 {
		return nil
	}
	rows := make([]FrequencyRow, 0, len(counts))
	for v, c := range counts {
		rows = append(rows, FrequencyRow{Value: v, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return LessLevel(rows[i].Value, rows[j].Value)
	})
	for i := range rows {
		ratio := float64(rows[i].Count) / float64(total)
		rows[i].Percentage = math.Round(ratio*10000) / 100
		rows[i].Proportion = math.Round(ratio*10000) / 10000
	}
	return rows
}

// CrossTab is a two-way contingency table with Total margins. Counts is
// indexed [row][col] following RowLevels and ColLevels.
type CrossTab struct {
	RowVar    string
	ColVar    string
	RowLevels []string
	ColLevels []string
	Counts    [][]int
	RowTotals []int
	ColTotals []int
	Grand     int
}

// Crosstabulate counts co-occurrences of two categorical variables over
// the rows where both are observed. Levels are sorted numerically when
// every level parses as a number, lexically otherwise.
func Crosstabulate(rowVar, colVar string, rows, cols []string, rowMissing, colMissing []bool) *CrossTab {
	type cell struct{ r, c string }
	counts := make(map[cell]int)
	rowSet := make(map[string]struct{})
	colSet := make(map[string]struct{})
	n := len(rows)
	if len(cols) < n {
		n = len(cols)
	}
	for i := 0; i < n; i++ {
		if rowMissing != nil && i < len(rowMissing) && rowMissing[i] {
			continue
		}
		if colMissing != nil && i < len(colMissing) && colMissing[i] {
			continue
		}
		counts[cell{rows[i], cols[i]}]++
		rowSet[rows[i]] = struct{}{}
		colSet[cols[i]] = struct{}{}
	}
	ct := &CrossTab{
		RowVar:    rowVar,
		ColVar:    colVar,
		RowLevels: sortLevels(rowSet),
		ColLevels: sortLevels(colSet),
	}
	ct.Counts = make([][]int, len(ct.RowLevels))
	ct.RowTotals = make([]int, len(ct.RowLevels))
	ct.ColTotals = make([]int, len(ct.ColLevels))
	for i, r := range ct.RowLevels {
		ct.Counts[i] = make([]int, len(ct.ColLevels))
		for j, c := range ct.ColLevels {
			k := counts[cell{r, c}]
			ct.Counts[i][j] = k
			ct.RowTotals[i] += k
			ct.ColTotals[j] += k
			ct.Grand += k
		}
	}
	return ct
}

func sortLevels(set map[string]struct{}) []string {
	levels := make([]string, 0, len(set))
	for v := range set {
		levels = append(levels, v)
	}
	sort.Slice(levels, func(i, j int) bool { return LessLevel(levels[i], levels[j]) })
	return levels
}

// LessLevel orders categorical levels numerically when both sides parse
// as numbers, so coded levels line up as 1, 2, 10 rather than 1, 10, 2.
func LessLevel(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil && fa != fb {
		return fa < fb
	}
	return a < b
}
