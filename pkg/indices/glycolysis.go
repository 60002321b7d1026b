package indices

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Bins is the number of equal-width intensity bands of the glycolysis
// partition.
const Bins = 4

// Glycolysis holds total lesion glycolysis and its partition over the
// intensity range
type Glycolysis struct {
	// TotalLesionGlycolysis is Mean × SegmentedVolume, in intensity·mm³
	TotalLesionGlycolysis float64

	// Gly[k] is the volume-weighted intensity sum of band k, in intensity·mm³
	Gly [Bins]float64

	// Q[k] is Gly[k] / TotalLesionGlycolysis as a fraction
	Q [Bins]float64
}

// ComputeGlycolysis splits [min, max] of an ascending slice into Bins
// half-open bands of equal width, the last one closed, and sums the
// volume-weighted intensities of each band.
//
// Gly and Q are NaN when the slice is empty, all values are equal, or the
// range is too narrow (or not finite) for Bins distinct dividers; Q is also
// NaN when the total lesion glycolysis is zero.
func ComputeGlycolysis(sorted []float64, mean, voxelVolume float64) Glycolysis {
	nan := math.NaN()
	g := Glycolysis{TotalLesionGlycolysis: nan}
	for k := range g.Gly {
		g.Gly[k] = nan
		g.Q[k] = nan
	}
	n := len(sorted)
	if n == 0 {
		return g
	}
	g.TotalLesionGlycolysis = mean * float64(n) * voxelVolume

	lo, hi := sorted[0], sorted[n-1]
	if !(hi > lo) {
		return g
	}
	// hi/Bins - lo/Bins stays finite when hi - lo would overflow
	width := hi/Bins - lo/Bins
	dividers := make([]float64, Bins+1)
	for k := 0; k < Bins; k++ {
		dividers[k] = lo + float64(k)*width
	}
	// stat.Histogram bins are half-open; lift the last divider so max lands
	// in the final band
	dividers[Bins] = math.Nextafter(hi, math.Inf(1))
	for k := 1; k <= Bins; k++ {
		if !(dividers[k] > dividers[k-1]) || (k < Bins && math.IsInf(dividers[k], 0)) {
			return g
		}
	}

	weights := make([]float64, n)
	for i, v := range sorted {
		weights[i] = v * voxelVolume
	}
	sums := stat.Histogram(nil, dividers, sorted, weights)
	copy(g.Gly[:], sums)

	if g.TotalLesionGlycolysis == 0 {
		return g
	}
	for k := range g.Q {
		g.Q[k] = g.Gly[k] / g.TotalLesionGlycolysis
	}
	return g
}
