package indices

import (
	"math"
	"slices"
	"sort"
)

// Quantiles are the boxplot statistics of a region
type Quantiles struct {
	FirstQuartile float64
	Median        float64
	ThirdQuartile float64

	// UpperAdjacent is the largest observed value not above Q3 + 1.5·IQR
	UpperAdjacent float64
}

// SortedValues returns a sorted copy of values.
func SortedValues(values []float64) []float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted
}

// Percentile returns the p-quantile (0 <= p <= 1) of an ascending slice,
// interpolating linearly between the closest ranks at h = (n-1)p. This is the
// convention of boxplots in R and NumPy. It returns NaN for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 || math.IsNaN(p) {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	frac := h - float64(lo)
	if frac == 0 || lo+1 >= n {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// ComputeQuantiles derives quartiles and the upper adjacent value from an
// ascending slice. All fields are NaN for an empty slice.
func ComputeQuantiles(sorted []float64) Quantiles {
	if len(sorted) == 0 {
		nan := math.NaN()
		return Quantiles{FirstQuartile: nan, Median: nan, ThirdQuartile: nan, UpperAdjacent: nan}
	}
	q := Quantiles{
		FirstQuartile: Percentile(sorted, 0.25),
		Median:        Percentile(sorted, 0.5),
		ThirdQuartile: Percentile(sorted, 0.75),
	}
	q.UpperAdjacent = upperAdjacent(sorted, q.FirstQuartile, q.ThirdQuartile)
	return q
}

func upperAdjacent(sorted []float64, q1, q3 float64) float64 {
	limit := q3 + 1.5*(q3-q1)
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] > limit })
	// sorted[0] <= q1 <= limit, so i is at least 1
	return sorted[i-1]
}
