// Package background estimates the background intensity around a labeled
// region, used to compute SAM.
package background

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"quantindices/internal/models"
)

// Shell averages the intensities of voxels surrounding a region. A voxel
// belongs to the shell when its Chebyshev distance, in voxels, to the
// nearest region voxel lies in (Inner, Outer].
type Shell struct {
	// Inner is the gap left between the region and the shell
	Inner int

	// Outer is the outer shell boundary
	Outer int
}

// DefaultShell is a one-voxel-thick shell separated from the region by a
// one-voxel gap.
func DefaultShell() Shell {
	return Shell{Inner: 1, Outer: 2}
}

// Validate checks 0 <= Inner < Outer.
func (s Shell) Validate() error {
	if s.Inner < 0 || s.Outer <= s.Inner {
		return fmt.Errorf("background: invalid shell (%d, %d]", s.Inner, s.Outer)
	}
	return nil
}

// EstimateBackground returns the mean intensity of the shell around label,
// or NaN when the label is absent, the shell is empty or invalid.
func (s Shell) EstimateBackground(vol *models.Volume, labels *models.LabelVolume, label int32) float64 {
	if s.Validate() != nil {
		return math.NaN()
	}
	models.MustMatch(vol.Geometry, labels.Geometry)

	region := labels.LabelBounds(label)
	if region.Empty() {
		return math.NaN()
	}
	box := region.Expand([models.Dim]int{s.Outer, s.Outer, s.Outer}, labels.Geometry)
	dist := s.distances(labels, label, box)

	var values []float64
	i := 0
	for z := box.Min[2]; z <= box.Max[2]; z++ {
		for y := box.Min[1]; y <= box.Max[1]; y++ {
			for x := box.Min[0]; x <= box.Max[0]; x++ {
				if d := dist[i]; d > s.Inner && d <= s.Outer {
					values = append(values, vol.At(models.Index{x, y, z}))
				}
				i++
			}
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

// distances dilates the region one 26-connected step at a time inside box
// and records the step at which each voxel was reached. Voxels further than
// Outer stay at -1.
func (s Shell) distances(labels *models.LabelVolume, label int32, box models.Bounds) []int {
	var size [models.Dim]int
	for d := 0; d < models.Dim; d++ {
		size[d] = box.Max[d] - box.Min[d] + 1
	}
	local := func(x, y, z int) int { return (z*size[1]+y)*size[0] + x }

	dist := make([]int, size[0]*size[1]*size[2])
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				idx := models.Index{box.Min[0] + x, box.Min[1] + y, box.Min[2] + z}
				if labels.At(idx) == label {
					dist[local(x, y, z)] = 0
				} else {
					dist[local(x, y, z)] = -1
				}
			}
		}
	}

	for step := 1; step <= s.Outer; step++ {
		for z := 0; z < size[2]; z++ {
			for y := 0; y < size[1]; y++ {
				for x := 0; x < size[0]; x++ {
					i := local(x, y, z)
					if dist[i] != -1 {
						continue
					}
				neighbours:
					for dz := -1; dz <= 1; dz++ {
						for dy := -1; dy <= 1; dy++ {
							for dx := -1; dx <= 1; dx++ {
								nx, ny, nz := x+dx, y+dy, z+dz
								if nx < 0 || ny < 0 || nz < 0 || nx >= size[0] || ny >= size[1] || nz >= size[2] {
									continue
								}
								if dist[local(nx, ny, nz)] == step-1 {
									dist[i] = step
									break neighbours
								}
							}
						}
					}
				}
			}
		}
	}
	return dist
}
