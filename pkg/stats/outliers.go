package stats

import (
	"math"
	"sort"
)

// DefaultOutlierThreshold is the conventional cutoff for the modified
// z-score screen.
const DefaultOutlierThreshold = 3.5

// Outlier flags one observation whose modified z-score exceeds the
// robust threshold. Row is the 0-based position in the input column.
type Outlier struct {
	Row   int
	Value float64
	Score float64
}

// RobustOutliers screens a column with the modified z-score
// 0.6745*(v-median)/MAD and flags values whose magnitude exceeds
// threshold. Missing and NaN entries never participate. A zero median
// absolute deviation disables the screen for the column, since every
// deviation would divide to infinity.
func RobustOutliers(values []float64, missing []bool, threshold float64) []Outlier {
	if threshold <= 0 {
		threshold = DefaultOutlierThreshold
	}
	obs := make([]float64, 0, len(values))
	for i, v := range values {
		if missing != nil && i < len(missing) && missing[i] {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		obs = append(obs, v)
	}
	if len(obs) == 0 {
		return nil
	}
	sorted := append([]float64(nil), obs...)
	sort.Float64s(sorted)
	median := Quantile(sorted, 0.5)

	devs := make([]float64, len(obs))
	for i, v := range obs {
		devs[i] = math.Abs(v - median)
	}
	sort.Float64s(devs)
	mad := Quantile(devs, 0.5)
	if mad == 0 {
		return nil
	}

	var out []Outlier
	for i, v := range values {
		if missing != nil && i < len(missing) && missing[i] {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		z := 0.6745 * (v - median) / mad
		if math.Abs(z) > threshold {
			out = append(out, Outlier{Row: i, Value: v, Score: z})
		}
	}
	return out
}
