// Package metrics computes population-level disorder measures: the
// Gini coefficient over the economic attribute and the mean
// per-dimension variance of belief vectors. Pure functions, no I/O.
package metrics

import (
	"fmt"
	"sort"
)

// ErrDimensionMismatch indicates belief vectors of differing dimension,
// which means upstream state corruption.
var ErrDimensionMismatch = fmt.Errorf("belief vectors have mismatched dimensions")

// Gini returns the Gini coefficient of the given non-negative values,
// in [0, 1]. A population of size <= 1, or one where every value is
// equal (including all-zero), has Gini 0. The input is not modified;
// values are sorted internally so the result is order-independent.
func Gini(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(2*(i+1)-n-1) * v
	}
	if sum == 0 {
		return 0
	}
	return weighted / (float64(n) * sum)
}

// BeliefVariance returns the mean of per-dimension population variances
// (divisor N, not N-1) across the given belief vectors. An empty input
// yields 0. All vectors must share the same dimension.
func BeliefVariance(vectors [][]float64) (float64, error) {
	if len(vectors) == 0 {
		return 0, nil
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector 0 has %d, vector %d has %d",
				ErrDimensionMismatch, dim, i, len(v))
		}
	}
	if dim == 0 {
		return 0, nil
	}

	n := float64(len(vectors))
	var total float64
	for d := 0; d < dim; d++ {
		var mean float64
		for _, v := range vectors {
			mean += v[d]
		}
		mean /= n

		var variance float64
		for _, v := range vectors {
			diff := v[d] - mean
			variance += diff * diff
		}
		total += variance / n
	}
	return total / float64(dim), nil
}
