package metrics

import (
	"sort"
	"time"
)

func sortedSeconds(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.Seconds()
	}
	sort.Float64s(out)
	return out
}

// Median of an ascending slice; 0 for an empty one.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile95 returns the 95th of 99 cut points computed with the exclusive
// method (ranks spaced over n+1) when there are at least 100
// samples, and the maximum otherwise.
func Percentile95(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n < 100 {
		return sorted[n-1]
	}
	return exclusiveQuantile(sorted, 95, 100)
}

// exclusiveQuantile is cut point i of q over n+1 spaced ranks.
func exclusiveQuantile(sorted []float64, i, q int) float64 {
	n := len(sorted)
	m := n + 1
	j := i * m / q
	if j < 1 {
		j = 1
	} else if j > n-1 {
		j = n - 1
	}
	delta := i*m - j*q
	return (sorted[j-1]*float64(q-delta) + sorted[j]*float64(delta)) / float64(q)
}
