package indices

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistics are the first-order intensity statistics of a region
type Statistics struct {
	Count             int
	Mean              float64
	RMS               float64
	Variance          float64 // population variance
	StandardDeviation float64
	Min               float64
	Max               float64

	// SegmentedVolume is Count times the voxel volume, in mm³
	SegmentedVolume float64
}

// ComputeStatistics reduces the region intensities. Every field but Count is
// NaN for an empty region.
func ComputeStatistics(values []float64, voxelVolume float64) Statistics {
	n := len(values)
	if n == 0 {
		nan := math.NaN()
		return Statistics{
			Mean: nan, RMS: nan, Variance: nan, StandardDeviation: nan,
			Min: nan, Max: nan, SegmentedVolume: nan,
		}
	}

	mean, variance := stat.PopMeanVariance(values, nil)
	if n == 1 {
		variance = 0
	}
	return Statistics{
		Count:             n,
		Mean:              mean,
		RMS:               math.Sqrt(floats.Dot(values, values) / float64(n)),
		Variance:          variance,
		StandardDeviation: math.Sqrt(variance),
		Min:               floats.Min(values),
		Max:               floats.Max(values),
		SegmentedVolume:   float64(n) * voxelVolume,
	}
}
