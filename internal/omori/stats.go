package omori

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RSquared returns 1 - SSres/SStot. A constant series has no variance to
// explain and yields 0 rather than NaN.
func RSquared(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	mean := stat.Mean(actual, nil)
	ssRes, ssTot := 0.0, 0.0
	for i, y := range actual {
		d := y - predicted[i]
		ssRes += d * d
		m := y - mean
		ssTot += m * m
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// Pearson returns the correlation coefficient of x and y and its two-sided
// p-value from Student's t distribution with n-2 degrees of freedom. When
// either series is constant the coefficient is undefined and Pearson returns
// (0, 1, false).
func Pearson(x, y []float64) (r, pValue float64, defined bool) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, 1, false
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0, 1, false
	}

	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, 1, false
	}
	r = math.Max(-1, math.Min(1, r))

	dof := float64(n - 2)
	if dof <= 0 {
		return r, 1, true
	}
	if math.Abs(r) == 1 {
		return r, 0, true
	}

	tStat := r * math.Sqrt(dof/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}
	pValue = 2 * dist.Survival(math.Abs(tStat))
	return r, math.Min(1, pValue), true
}
