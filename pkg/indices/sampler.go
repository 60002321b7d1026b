// Package indices computes the per-region quantitative indices of a PET
// volume: intensity statistics, quartiles, glycolysis partitions, SAM and
// the SUVpeak-style peak value.
package indices

import (
	"gonum.org/v1/gonum/spatial/r3"

	"quantindices/internal/models"
)

// Voxel is one labeled voxel of a region
type Voxel struct {
	// Value is the voxel intensity
	Value float64

	// Index is the voxel's grid position
	Index models.Index

	// Point is the physical position of the voxel center
	Point r3.Vec
}

// SampleList holds every voxel of one label in grid traversal order
type SampleList struct {
	// Label is the region the samples were collected for
	Label int32

	// Voxels lists the region voxels, x fastest
	Voxels []Voxel

	// VoxelVolume is the physical volume of one voxel in mm³
	VoxelVolume float64
}

// Sample collects the voxels of vol whose label equals target. The result is
// empty, not an error, when the label is absent.
func Sample(vol *models.Volume, labels *models.LabelVolume, target int32) SampleList {
	models.MustMatch(vol.Geometry, labels.Geometry)

	s := SampleList{Label: target, VoxelVolume: vol.VoxelVolume()}
	for off, l := range labels.Data {
		if l != target {
			continue
		}
		idx := vol.IndexOf(off)
		s.Voxels = append(s.Voxels, Voxel{
			Value: vol.Data[off],
			Index: idx,
			Point: vol.IndexToPoint(idx),
		})
	}
	return s
}

// Len returns the number of sampled voxels.
func (s SampleList) Len() int { return len(s.Voxels) }

// Empty reports whether the label had no voxel.
func (s SampleList) Empty() bool { return len(s.Voxels) == 0 }

// Values returns the intensities in sample order.
func (s SampleList) Values() []float64 {
	v := make([]float64, len(s.Voxels))
	for i, vx := range s.Voxels {
		v[i] = vx.Value
	}
	return v
}
