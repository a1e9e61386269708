package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Test method names recorded in comparison results and the report.
const (
	MethodANOVA   = "ANOVA"
	MethodKruskal = "Kruskal-Wallis"
	MethodNone    = "None"
	MethodFailed  = "Failed"
)

var (
	errTooFewGroups  = errors.New("need at least two groups")
	errEmptyGroup    = errors.New("empty group")
	errNoWithinDF    = errors.New("no within-group degrees of freedom")
	errZeroVariance  = errors.New("zero within-group variance")
	errAllTied       = errors.New("all observations are tied")
	errTooFewSamples = errors.New("too few observations")
)

// OneWayANOVA computes the F statistic and p-value for a one-way
// analysis of variance across groups. The F ratio is undefined when
// fewer than two groups are given, a group is empty, the within-group
// degrees of freedom vanish, or the within-group sum of squares is
// zero; those cases return an error so the caller can fall back to a
// rank-based test.
func OneWayANOVA(groups [][]float64) (f, p float64, err error) {
	k := len(groups)
	if k < 2 {
		return 0, 0, errTooFewGroups
	}
	n := 0
	var grandSum float64
	for _, g := range groups {
		if len(g) == 0 {
			return 0, 0, errEmptyGroup
		}
		n += len(g)
		for _, v := range g {
			grandSum += v
		}
	}
	dfBetween := float64(k - 1)
	dfWithin := float64(n - k)
	if dfWithin < 1 {
		return 0, 0, errNoWithinDF
	}
	grandMean := grandSum / float64(n)
	var ssBetween, ssWithin float64
	for _, g := range groups {
		var sum float64
		for _, v := range g {
			sum += v
		}
		mean := sum / float64(len(g))
		d := mean - grandMean
		ssBetween += float64(len(g)) * d * d
		for _, v := range g {
			dv := v - mean
			ssWithin += dv * dv
		}
	}
	if ssWithin <= 0 {
		return 0, 0, errZeroVariance
	}
	f = (ssBetween / dfBetween) / (ssWithin / dfWithin)
	p = distuv.F{D1: dfBetween, D2: dfWithin}.Survival(f)
	return f, p, nil
}

// KruskalWallis computes the tie-corrected H statistic over pooled
// mid-ranks and its p-value from the chi-squared distribution with k-1
// degrees of freedom. It fails when fewer than two groups are given, a
// group is empty, or every pooled observation is tied (the tie
// correction removes all variance).
func KruskalWallis(groups [][]float64) (h, p float64, err error) {
	k := len(groups)
	if k < 2 {
		return 0, 0, errTooFewGroups
	}
	n := 0
	for _, g := range groups {
		if len(g) == 0 {
			return 0, 0, errEmptyGroup
		}
		n += len(g)
	}
	type obs struct {
		value float64
		group int
	}
	pooled := make([]obs, 0, n)
	for gi, g := range groups {
		for _, v := range g {
			pooled = append(pooled, obs{value: v, group: gi})
		}
	}
	sort.Slice(pooled, func(i, j int) bool { return pooled[i].value < pooled[j].value })

	rankSums := make([]float64, k)
	var tieSum float64
	for i := 0; i < n; {
		j := i
		for j < n && pooled[j].value == pooled[i].value {
			j++
		}
		// Tied run [i, j) shares the mid-rank.
		rank := float64(i+j+1) / 2
		for m := i; m < j; m++ {
			rankSums[pooled[m].group] += rank
		}
		t := float64(j - i)
		tieSum += t*t*t - t
		i = j
	}
	nf := float64(n)
	correction := 1 - tieSum/(nf*nf*nf-nf)
	if correction <= 0 {
		return 0, 0, errAllTied
	}
	h = -3 * (nf + 1)
	for gi, g := range groups {
		h += 12 / (nf * (nf + 1)) * rankSums[gi] * rankSums[gi] / float64(len(g))
	}
	h /= correction
	p = distuv.ChiSquared{K: float64(k - 1)}.Survival(h)
	return h, p, nil
}

// Levene tests the homogeneity of variances across groups by running a
// one-way analysis of variance over the absolute deviations from each
// group's mean. Under the null of equal variances the W statistic
// follows an F distribution with (k-1, N-k) degrees of freedom.
func Levene(groups [][]float64) (w, p float64, err error) {
	transformed := make([][]float64, len(groups))
	for i, g := range groups {
		if len(g) == 0 {
			return 0, 0, errEmptyGroup
		}
		var sum float64
		for _, v := range g {
			sum += v
		}
		mean := sum / float64(len(g))
		z := make([]float64, len(g))
		for j, v := range g {
			z[j] = math.Abs(v - mean)
		}
		transformed[i] = z
	}
	return OneWayANOVA(transformed)
}

// EtaSquared is the share of total variance explained by group
// membership, SS_between over SS_total. It is NaN when the total sum
// of squares is zero or fewer than two groups are given.
func EtaSquared(groups [][]float64) float64 {
	if len(groups) < 2 {
		return math.NaN()
	}
	n := 0
	var grandSum float64
	for _, g := range groups {
		n += len(g)
		for _, v := range g {
			grandSum += v
		}
	}
	if n == 0 {
		return math.NaN()
	}
	grandMean := grandSum / float64(n)
	var ssBetween, ssTotal float64
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		var sum float64
		for _, v := range g {
			sum += v
		}
		mean := sum / float64(len(g))
		d := mean - grandMean
		ssBetween += float64(len(g)) * d * d
		for _, v := range g {
			dv := v - grandMean
			ssTotal += dv * dv
		}
	}
	if ssTotal <= 0 {
		return math.NaN()
	}
	return ssBetween / ssTotal
}

// EffectSizeLabel classifies an eta-squared value using the
// conventional tiers for variance-explained effect sizes.
func EffectSizeLabel(eta float64) string {
	switch {
	case math.IsNaN(eta):
		return "Not estimable"
	case eta < 0.01:
		return "Negligible"
	case eta < 0.06:
		return "Small"
	case eta < 0.14:
		return "Medium"
	default:
		return "Large"
	}
}

// JarqueBera screens a sample for departure from normality using the
// joint skewness and excess kurtosis statistic JB = n/6*(S^2 + K^2/4),
// with the p-value from the chi-squared distribution with two degrees
// of freedom. It fails on fewer than two observations or a constant
// sample.
func JarqueBera(values []float64) (jb, p float64, err error) {
	n := len(values)
	if n < 2 {
		return 0, 0, errTooFewSamples
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var m2, m3, m4 float64
	for _, v := range values {
		d := v - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	nf := float64(n)
	m2 /= nf
	m3 /= nf
	m4 /= nf
	if m2 <= 0 {
		return 0, 0, errZeroVariance
	}
	skew := m3 / math.Pow(m2, 1.5)
	exKurt := m4/(m2*m2) - 3
	jb = nf / 6 * (skew*skew + exKurt*exKurt/4)
	p = distuv.ChiSquared{K: 2}.Survival(jb)
	return jb, p, nil
}
