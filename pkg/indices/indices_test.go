package indices

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantindices/internal/models"
)

func TestSampleOrderAndPoints(t *testing.T) {
	g := models.NewGeometry([models.Dim]int{3, 3, 2}, [models.Dim]float64{2, 2, 4}, [models.Dim]float64{10, 0, 0})
	vol := models.NewVolume(g)
	labels := models.NewLabelVolume(g)
	for off := range vol.Data {
		vol.Data[off] = float64(off)
	}
	labels.Set(models.Index{2, 2, 1}, 3)
	labels.Set(models.Index{1, 0, 0}, 3)
	labels.Set(models.Index{0, 1, 1}, 3)
	labels.Set(models.Index{0, 0, 0}, 1)

	s := Sample(vol, labels, 3)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, int32(3), s.Label)
	assert.Equal(t, 16.0, s.VoxelVolume)
	assert.Equal(t, []float64{1, 12, 17}, s.Values())
	assert.Equal(t, models.Index{0, 1, 1}, s.Voxels[1].Index)
	assert.Equal(t, 12.0, s.Voxels[0].Point.X)
	assert.Equal(t, 4.0, s.Voxels[2].Point.Z)

	empty := Sample(vol, labels, 42)
	assert.True(t, empty.Empty())
	assert.Empty(t, empty.Values())
}

func TestStatisticsConstantRegion(t *testing.T) {
	values := make([]float64, 123)
	for i := range values {
		values[i] = 8
	}
	s := ComputeStatistics(values, 1)
	assert.Equal(t, 123, s.Count)
	assert.Equal(t, 8.0, s.Mean)
	assert.Equal(t, 8.0, s.Min)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, 8.0, s.RMS)
	assert.Zero(t, s.Variance)
	assert.Zero(t, s.StandardDeviation)
	assert.Equal(t, 123.0, s.SegmentedVolume)
}

func TestStatisticsValues(t *testing.T) {
	s := ComputeStatistics([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 0.5)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 4.0, s.Variance, 1e-12)
	assert.InDelta(t, 2.0, s.StandardDeviation, 1e-12)
	assert.InDelta(t, math.Sqrt(232.0/8), s.RMS, 1e-12)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 4.0, s.SegmentedVolume)

	one := ComputeStatistics([]float64{-3}, 1)
	assert.Zero(t, one.Variance)
	assert.Equal(t, 3.0, one.RMS)
}

func TestStatisticsEmpty(t *testing.T) {
	s := ComputeStatistics(nil, 1)
	assert.Zero(t, s.Count)
	for _, v := range []float64{s.Mean, s.RMS, s.Variance, s.StandardDeviation, s.Min, s.Max, s.SegmentedVolume} {
		assert.True(t, math.IsNaN(v))
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.75, Percentile(sorted, 0.25))
	assert.Equal(t, 2.5, Percentile(sorted, 0.5))
	assert.Equal(t, 3.25, Percentile(sorted, 0.75))
	assert.Equal(t, 1.0, Percentile(sorted, 0))
	assert.Equal(t, 4.0, Percentile(sorted, 1))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 0.3))
	assert.True(t, math.IsNaN(Percentile(nil, 0.5)))
}

func TestQuantilesUpperAdjacent(t *testing.T) {
	q := ComputeQuantiles([]float64{1, 2, 3, 4})
	assert.Equal(t, 4.0, q.UpperAdjacent)

	q = ComputeQuantiles([]float64{1, 2, 3, 4, 100})
	assert.Equal(t, 2.0, q.FirstQuartile)
	assert.Equal(t, 3.0, q.Median)
	assert.Equal(t, 4.0, q.ThirdQuartile)
	assert.Equal(t, 4.0, q.UpperAdjacent)

	empty := ComputeQuantiles(nil)
	assert.True(t, math.IsNaN(empty.Median))
	assert.True(t, math.IsNaN(empty.UpperAdjacent))
}

func TestQuantileOrdering(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for _, n := range []int{1, 2, 3, 4, 7, 50, 333} {
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.ExpFloat64() * 5
		}
		sorted := SortedValues(values)
		stats := ComputeStatistics(values, 1)
		q := ComputeQuantiles(sorted)

		assert.LessOrEqual(t, stats.Min, q.FirstQuartile, "n=%d", n)
		assert.LessOrEqual(t, q.FirstQuartile, q.Median, "n=%d", n)
		assert.LessOrEqual(t, q.Median, q.ThirdQuartile, "n=%d", n)
		assert.LessOrEqual(t, q.ThirdQuartile, stats.Max, "n=%d", n)

		assert.Contains(t, values, q.UpperAdjacent, "n=%d", n)
		assert.LessOrEqual(t, q.UpperAdjacent, q.ThirdQuartile+1.5*(q.ThirdQuartile-q.FirstQuartile), "n=%d", n)
		assert.GreaterOrEqual(t, q.UpperAdjacent, q.Median, "n=%d", n)
	}
}

func TestSortedValuesLeavesInputAlone(t *testing.T) {
	in := []float64{3, 1, 2}
	out := SortedValues(in)
	assert.Equal(t, []float64{1, 2, 3}, out)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestGlycolysisPartition(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	g := ComputeGlycolysis(sorted, 3, 2)
	assert.Equal(t, 30.0, g.TotalLesionGlycolysis)
	assert.Equal(t, [Bins]float64{2, 4, 6, 18}, g.Gly)
	assert.InDelta(t, 2.0/30, g.Q[0], 1e-12)
	assert.InDelta(t, 18.0/30, g.Q[3], 1e-12)
}

func TestGlycolysisSums(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	values := make([]float64, 500)
	for i := range values {
		values[i] = 1 + rng.Float64()*20
	}
	sorted := SortedValues(values)
	stats := ComputeStatistics(values, 3.5)
	g := ComputeGlycolysis(sorted, stats.Mean, 3.5)

	var glySum, qSum float64
	for k := 0; k < Bins; k++ {
		assert.GreaterOrEqual(t, g.Gly[k], 0.0)
		glySum += g.Gly[k]
		qSum += g.Q[k]
	}
	assert.InDelta(t, g.TotalLesionGlycolysis, glySum, 1e-9*g.TotalLesionGlycolysis)
	assert.InDelta(t, 1.0, qSum, 1e-9)
	assert.InDelta(t, stats.Mean*stats.SegmentedVolume, g.TotalLesionGlycolysis, 1e-9*g.TotalLesionGlycolysis)
}

func TestGlycolysisDegenerate(t *testing.T) {
	g := ComputeGlycolysis([]float64{8, 8, 8}, 8, 1)
	assert.Equal(t, 24.0, g.TotalLesionGlycolysis)
	for k := 0; k < Bins; k++ {
		assert.True(t, math.IsNaN(g.Gly[k]))
		assert.True(t, math.IsNaN(g.Q[k]))
	}

	g = ComputeGlycolysis(nil, math.NaN(), 1)
	assert.True(t, math.IsNaN(g.TotalLesionGlycolysis))
	assert.True(t, math.IsNaN(g.Gly[0]))

	// zero total glycolysis leaves the bands defined but the shares undefined
	g = ComputeGlycolysis([]float64{-1, 1}, 0, 1)
	assert.Equal(t, -1.0, g.Gly[0])
	assert.Equal(t, 1.0, g.Gly[3])
	assert.True(t, math.IsNaN(g.Q[0]))

	// ranges wider than MaxFloat64 still partition without overflow
	g = ComputeGlycolysis([]float64{-1e308, 0, 1e308}, 0, 1)
	assert.Equal(t, -1e308, g.Gly[0])
	assert.Zero(t, g.Gly[1])
	assert.Zero(t, g.Gly[2])
	assert.Equal(t, 1e308, g.Gly[3])

	g = ComputeGlycolysis([]float64{0, math.MaxFloat64}, 0, 1)
	assert.Equal(t, math.MaxFloat64, g.Gly[3])

	// a range of a few ulps cannot hold distinct band edges
	g = ComputeGlycolysis([]float64{1, math.Nextafter(1, 2)}, 1, 1)
	assert.False(t, math.IsNaN(g.TotalLesionGlycolysis))
	for k := 0; k < Bins; k++ {
		assert.True(t, math.IsNaN(g.Gly[k]), "band %d", k)
		assert.True(t, math.IsNaN(g.Q[k]), "band %d", k)
	}

	// infinite intensities leave the partition undefined
	g = ComputeGlycolysis([]float64{0, math.Inf(1)}, math.Inf(1), 1)
	assert.True(t, math.IsNaN(g.Gly[0]))
}

func TestComputeSAM(t *testing.T) {
	s := ComputeSAM(8, 123, 2)
	assert.Equal(t, 738.0, s.Value)
	assert.Equal(t, 2.0, s.Background)

	s = ComputeSAM(8, 123, math.NaN())
	assert.True(t, math.IsNaN(s.Value))
	assert.True(t, math.IsNaN(s.Background))

	assert.Equal(t, 1.5, FixedBackground(1.5).EstimateBackground(nil, nil, 1))
}

func TestResultsStartUndefined(t *testing.T) {
	r := NewResults(4)
	assert.Equal(t, int32(4), r.Label)
	fields := []float64{
		r.Mean, r.RMS, r.Variance, r.StandardDeviation, r.Min, r.Max, r.SegmentedVolume,
		r.FirstQuartile, r.Median, r.ThirdQuartile, r.UpperAdjacent, r.TotalLesionGlycolysis,
		r.SAMValue, r.SAMBackground, r.PeakValue, r.PeakLocation.X,
	}
	fields = append(fields, r.Gly[:]...)
	fields = append(fields, r.Q[:]...)
	assert.True(t, slices.IndexFunc(fields, func(v float64) bool { return !math.IsNaN(v) }) < 0)
	assert.False(t, r.PeakFound)
}
