// SPDX-License-Identifier: MIT

// Package correlation implements the pairwise RSSI analysis engine:
// timestamp alignment with a sliding-window fallback, Pearson correlation,
// the stationary-proxy heuristic and verdict classification.
package correlation

import "math"

// mean returns the arithmetic mean of xs. Callers guarantee len(xs) > 0.
func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev returns the population standard deviation of xs.
func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// pearson computes the Pearson correlation coefficient of two equal-length
// series. Zero variance in either series yields (0, true).
func pearson(a, b []float64) (rho float64, zeroVariance bool) {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0, true
	}
	muA := mean(a)
	muB := mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - muA
		db := b[i] - muB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, true
	}
	rho = cov / math.Sqrt(varA*varB)
	// Guard against floating point drift outside [-1, 1].
	if rho > 1 {
		rho = 1
	} else if rho < -1 {
		rho = -1
	}
	return rho, false
}
