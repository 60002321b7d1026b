package models

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

// Dim is the dimensionality of every grid handled by the engine.
const Dim = 3

// GeometryTolerance is the largest spacing/origin difference for which two
// grids are still considered co-registered.
const GeometryTolerance = 1e-6

// Index addresses a voxel by its integer grid coordinates (x, y, z).
type Index [Dim]int

// Add returns the voxel index displaced by offset.
func (i Index) Add(offset Index) Index {
	return Index{i[0] + offset[0], i[1] + offset[1], i[2] + offset[2]}
}

// Geometry describes the physical layout of a voxel grid
type Geometry struct {
	// Size is the number of voxels along each axis
	Size [Dim]int

	// Spacing is the physical size of each voxel along each axis in mm
	Spacing [Dim]float64

	// Origin is the physical position of the center of voxel (0, 0, 0)
	Origin [Dim]float64

	// Direction holds the axis direction cosines as columns.
	// The zero value is treated as the identity.
	Direction [Dim][Dim]float64
}

// NewGeometry returns an axis-aligned geometry.
func NewGeometry(size [Dim]int, spacing, origin [Dim]float64) Geometry {
	return Geometry{Size: size, Spacing: spacing, Origin: origin}
}

// Validate reports whether the geometry describes a usable grid.
func (g Geometry) Validate() error {
	for d := 0; d < Dim; d++ {
		if g.Size[d] <= 0 {
			return fmt.Errorf("size along axis %d must be positive, got %d", d, g.Size[d])
		}
		if !(g.Spacing[d] > 0) || math.IsInf(g.Spacing[d], 0) {
			return fmt.Errorf("spacing along axis %d must be positive, got %g", d, g.Spacing[d])
		}
	}
	return nil
}

// Len returns the total number of voxels.
func (g Geometry) Len() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// VoxelVolume returns the physical volume of a single voxel in mm³.
func (g Geometry) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

// Contains reports whether idx lies inside the grid.
func (g Geometry) Contains(idx Index) bool {
	for d := 0; d < Dim; d++ {
		if idx[d] < 0 || idx[d] >= g.Size[d] {
			return false
		}
	}
	return true
}

// Offset returns the position of idx in the flat, x-fastest data array.
func (g Geometry) Offset(idx Index) int {
	return idx[2]*g.Size[0]*g.Size[1] + idx[1]*g.Size[0] + idx[0]
}

// IndexOf is the inverse of Offset.
func (g Geometry) IndexOf(offset int) Index {
	plane := g.Size[0] * g.Size[1]
	z := offset / plane
	rem := offset - z*plane
	return Index{rem % g.Size[0], rem / g.Size[0], z}
}

func (g Geometry) direction() [Dim][Dim]float64 {
	if g.Direction == ([Dim][Dim]float64{}) {
		return [Dim][Dim]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	return g.Direction
}

// IndexToPoint maps a voxel index to its physical center.
func (g Geometry) IndexToPoint(idx Index) r3.Vec {
	dir := g.direction()
	var scaled [Dim]float64
	for d := 0; d < Dim; d++ {
		scaled[d] = float64(idx[d]) * g.Spacing[d]
	}
	var p [Dim]float64
	for row := 0; row < Dim; row++ {
		p[row] = g.Origin[row]
		for col := 0; col < Dim; col++ {
			p[row] += dir[row][col] * scaled[col]
		}
	}
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}

// SameAs reports whether both geometries describe the same grid, comparing
// spacing, origin and direction within tol and sizes exactly.
func (g Geometry) SameAs(other Geometry, tol float64) bool {
	if g.Size != other.Size {
		return false
	}
	a, b := g.direction(), other.direction()
	for d := 0; d < Dim; d++ {
		if math.Abs(g.Spacing[d]-other.Spacing[d]) > tol {
			return false
		}
		if math.Abs(g.Origin[d]-other.Origin[d]) > tol {
			return false
		}
		for c := 0; c < Dim; c++ {
			if math.Abs(a[d][c]-b[d][c]) > tol {
				return false
			}
		}
	}
	return true
}

// Volume is a scalar intensity grid stored in x-fastest order
type Volume struct {
	Geometry

	// Data holds one intensity per voxel
	Data []float64
}

// NewVolume allocates a zero-filled volume.
func NewVolume(g Geometry) *Volume {
	return &Volume{Geometry: g, Data: make([]float64, g.Len())}
}

// At returns the intensity at idx. idx must lie inside the grid.
func (v *Volume) At(idx Index) float64 {
	return v.Data[v.Offset(idx)]
}

// Set stores the intensity at idx.
func (v *Volume) Set(idx Index, value float64) {
	v.Data[v.Offset(idx)] = value
}

// LabelVolume is an integer segmentation grid sharing the geometry of its
// companion Volume
type LabelVolume struct {
	Geometry

	// Data holds one region identifier per voxel; 0 is background
	Data []int32
}

// NewLabelVolume allocates a label volume filled with background.
func NewLabelVolume(g Geometry) *LabelVolume {
	return &LabelVolume{Geometry: g, Data: make([]int32, g.Len())}
}

// At returns the label at idx. idx must lie inside the grid.
func (l *LabelVolume) At(idx Index) int32 {
	return l.Data[l.Offset(idx)]
}

// Set stores the label at idx.
func (l *LabelVolume) Set(idx Index, label int32) {
	l.Data[l.Offset(idx)] = label
}

// Labels returns the distinct non-zero labels present, in ascending order.
func (l *LabelVolume) Labels() []int32 {
	seen := make(map[int32]struct{})
	for _, v := range l.Data {
		if v != 0 {
			seen[v] = struct{}{}
		}
	}
	labels := make([]int32, 0, len(seen))
	for v := range seen {
		labels = append(labels, v)
	}
	slices.Sort(labels)
	return labels
}

// Bounds is an inclusive voxel bounding box
type Bounds struct {
	Min, Max Index
}

// Empty reports whether the box contains no voxel.
func (b Bounds) Empty() bool {
	for d := 0; d < Dim; d++ {
		if b.Max[d] < b.Min[d] {
			return true
		}
	}
	return false
}

// Expand grows the box by pad voxels per axis and clips it to g.
func (b Bounds) Expand(pad [Dim]int, g Geometry) Bounds {
	if b.Empty() {
		return b
	}
	for d := 0; d < Dim; d++ {
		b.Min[d] = max(b.Min[d]-pad[d], 0)
		b.Max[d] = min(b.Max[d]+pad[d], g.Size[d]-1)
	}
	return b
}

// LabelBounds returns the bounding box of every voxel carrying label. The
// result is Empty when the label is absent.
func (l *LabelVolume) LabelBounds(label int32) Bounds {
	b := Bounds{
		Min: Index{math.MaxInt, math.MaxInt, math.MaxInt},
		Max: Index{-1, -1, -1},
	}
	for off, v := range l.Data {
		if v != label {
			continue
		}
		idx := l.IndexOf(off)
		for d := 0; d < Dim; d++ {
			b.Min[d] = min(b.Min[d], idx[d])
			b.Max[d] = max(b.Max[d], idx[d])
		}
	}
	return b
}

// MustMatch panics unless both geometries describe the same grid. Callers
// must co-register (resample) their volumes before handing them over.
func MustMatch(a, b Geometry) {
	if !a.SameAs(b, GeometryTolerance) {
		panic(fmt.Sprintf("models: geometry mismatch: size %v/%v spacing %v/%v origin %v/%v",
			a.Size, b.Size, a.Spacing, b.Spacing, a.Origin, b.Origin))
	}
}
