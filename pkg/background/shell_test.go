package background

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"quantindices/internal/models"
)

// rings builds a size³ grid with one labeled voxel at center; voxels at
// Chebyshev distance 1 hold 5, at distance 2 hold 3, the rest 100.
func rings(size int, center models.Index) (*models.Volume, *models.LabelVolume) {
	g := models.NewGeometry([models.Dim]int{size, size, size}, [models.Dim]float64{1, 1, 1}, [models.Dim]float64{})
	vol := models.NewVolume(g)
	labels := models.NewLabelVolume(g)
	for off := range vol.Data {
		idx := g.IndexOf(off)
		d := 0
		for k := 0; k < models.Dim; k++ {
			d = max(d, abs(idx[k]-center[k]))
		}
		switch d {
		case 0:
			vol.Data[off] = 50
			labels.Data[off] = 1
		case 1:
			vol.Data[off] = 5
		case 2:
			vol.Data[off] = 3
		default:
			vol.Data[off] = 100
		}
	}
	return vol, labels
}

func TestShellDefault(t *testing.T) {
	vol, labels := rings(9, models.Index{4, 4, 4})
	assert.Equal(t, 3.0, DefaultShell().EstimateBackground(vol, labels, 1))
}

func TestShellBands(t *testing.T) {
	vol, labels := rings(9, models.Index{4, 4, 4})
	assert.Equal(t, 5.0, Shell{Inner: 0, Outer: 1}.EstimateBackground(vol, labels, 1))

	// 26 voxels at distance 1 and 98 at distance 2
	want := (26*5.0 + 98*3.0) / 124
	assert.InDelta(t, want, Shell{Inner: 0, Outer: 2}.EstimateBackground(vol, labels, 1), 1e-12)
	assert.Equal(t, 100.0, Shell{Inner: 2, Outer: 3}.EstimateBackground(vol, labels, 1))
}

func TestShellClippedAtImageBorder(t *testing.T) {
	vol, labels := rings(6, models.Index{0, 0, 0})
	assert.Equal(t, 3.0, DefaultShell().EstimateBackground(vol, labels, 1))
}

func TestShellUndefined(t *testing.T) {
	vol, labels := rings(5, models.Index{2, 2, 2})
	assert.True(t, math.IsNaN(DefaultShell().EstimateBackground(vol, labels, 7)))
	assert.True(t, math.IsNaN(Shell{Inner: 2, Outer: 2}.EstimateBackground(vol, labels, 1)))
	assert.Error(t, Shell{Inner: -1, Outer: 2}.Validate())
	assert.NoError(t, DefaultShell().Validate())

	// the region covers the whole image, so no shell voxel exists
	for i := range labels.Data {
		labels.Data[i] = 1
	}
	assert.True(t, math.IsNaN(DefaultShell().EstimateBackground(vol, labels, 1)))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
