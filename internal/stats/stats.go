// Package stats computes summary statistics over a finite sample set.
//
// Percentiles use the nearest-rank method on the ascending sample: the
// p-th percentile is the element at index floor(p*(n-1)). The standard
// deviation is the population one (sum of squared deviations divided by n).
package stats

import (
	"math"
	"sort"
)

// Distribution summarizes a sample set. The zero value is what Compute
// returns for an empty sample.
type Distribution struct {
	Count  int
	Mean   float64
	Median float64
	P95    float64
	P99    float64
	Min    float64
	Max    float64
	StdDev float64
}

// Compute returns the Distribution of values. The input slice is not
// modified.
func Compute(values []float64) Distribution {
	n := len(values)
	if n == 0 {
		return Distribution{}
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}

	return Distribution{
		Count:  n,
		Mean:   mean,
		Median: Percentile(sorted, 0.50),
		P95:    Percentile(sorted, 0.95),
		P99:    Percentile(sorted, 0.99),
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: math.Sqrt(sq / float64(n)),
	}
}

// Percentile returns the nearest-rank p-th percentile (0 <= p <= 1) of an
// ascending slice, or 0 if the slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
