package stats

import "math"

// Matrix is a Pearson correlation matrix. R is indexed [i][j] in the
// order of Vars; N is the number of listwise-complete rows behind every
// coefficient. An empty matrix (nil R) means too few complete rows.
type Matrix struct {
	Vars []string
	R    [][]float64
	N    int
}

// Empty reports whether the matrix holds no coefficients.
func (m *Matrix) Empty() bool { return m == nil || len(m.R) == 0 }

// At returns the coefficient for the named pair, NaN when either
// variable is absent.
func (m *Matrix) At(a, b string) float64 {
	ia, ib := -1, -1
	for i, v := range m.Vars {
		if v == a {
			ia = i
		}
		if v == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return math.NaN()
	}
	return m.R[ia][ib]
}

// Correlate computes pairwise Pearson coefficients over the rows where
// every variable is observed, so all coefficients share one row set.
// cols[i] and masks[i] belong to vars[i]; a nil mask means fully
// observed. Fewer than minRows complete rows yields an empty matrix.
// Coefficients are clamped to [-1, 1] against rounding drift; a
// constant variable yields NaN against every other.
func Correlate(vars []string, cols [][]float64, masks [][]bool, minRows int) *Matrix {
	m := &Matrix{Vars: vars}
	if len(vars) == 0 || len(cols) != len(vars) {
		return m
	}
	rows := len(cols[0])
	for _, c := range cols {
		if len(c) < rows {
			rows = len(c)
		}
	}
	complete := make([]int, 0, rows)
	for r := 0; r < rows; r++ {
		ok := true
		for i := range cols {
			if masks != nil && masks[i] != nil && r < len(masks[i]) && masks[i][r] {
				ok = false
				break
			}
			if math.IsNaN(cols[i][r]) {
				ok = false
				break
			}
		}
		if ok {
			complete = append(complete, r)
		}
	}
	if minRows < 2 {
		minRows = 2
	}
	if len(complete) < minRows {
		return m
	}
	m.N = len(complete)
	m.R = make([][]float64, len(vars))
	for i := range m.R {
		m.R[i] = make([]float64, len(vars))
		m.R[i][i] = 1
	}
	for i := 0; i < len(vars); i++ {
		for j := i + 1; j < len(vars); j++ {
			r := pearson(cols[i], cols[j], complete)
			m.R[i][j] = r
			m.R[j][i] = r
		}
	}
	return m
}

// pearson computes the coefficient over the selected rows with
// single-pass product sums.
func pearson(x, y []float64, rows []int) float64 {
	var sx, sy, sxx, syy, sxy float64
	n := float64(len(rows))
	for _, r := range rows {
		a, b := x[r], y[r]
		sx += a
		sy += b
		sxx += a * a
		syy += b * b
		sxy += a * b
	}
	den := math.Sqrt(n*sxx-sx*sx) * math.Sqrt(n*syy-sy*sy)
	if den <= 0 || math.IsNaN(den) {
		return math.NaN()
	}
	r := (n*sxy - sx*sy) / den
	if r > 1 {
		r = 1
	}
	if r < -1 {
		r = -1
	}
	return r
}
