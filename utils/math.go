package utils

import (
	"math"
	"slices"
)

// TopK returns the indices and values of the k largest scores in descending
// order. Ties keep the lower index first. k is clamped to len(scores).
func TopK(scores []float64, k int) ([]int, []float64) {
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return []int{}, []float64{}
	}

	order := ArgSort(scores, true)

	indices := make([]int, k)
	values := make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i] = order[i]
		values[i] = scores[order[i]]
	}

	return indices, values
}

// ArgSort returns the indices that would sort the slice. The sort is stable,
// so equal scores stay in index order. NaN sorts last in both directions.
func ArgSort(scores []float64, descending bool) []int {
	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}

	slices.SortStableFunc(indices, func(a, b int) int {
		x, y := scores[a], scores[b]
		switch {
		case math.IsNaN(x) && math.IsNaN(y):
			return 0
		case math.IsNaN(x):
			return 1
		case math.IsNaN(y):
			return -1
		case x == y:
			return 0
		}
		if (x > y) == descending {
			return -1
		}
		return 1
	})

	return indices
}

// Norm computes the L2 norm of a vector
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeRows L2-normalizes each row of a row-major [rows, dim] buffer in
// place. The norm is clamped below at 1e-12 so zero rows stay zero.
func NormalizeRows(data []float32, dim int) {
	if dim <= 0 {
		return
	}
	for start := 0; start+dim <= len(data); start += dim {
		row := data[start : start+dim]
		norm := math.Max(Norm(row), 1e-12)
		for i, x := range row {
			row[i] = float32(float64(x) / norm)
		}
	}
}
