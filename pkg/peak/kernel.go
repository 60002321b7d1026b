// Package peak builds spherical partial-volume averaging kernels and searches
// a labeled region for the placement with the highest kernel-weighted mean
// intensity (an SUVpeak-style metric).
package peak

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"quantindices/internal/models"
)

// Mode selects how boundary voxel weights are computed
type Mode int

const (
	// Exact integrates the sphere/voxel overlap.
	Exact Mode = iota
	// Approximate counts subsample centers inside the sphere. Accuracy
	// improves with the sampling factor on nested grids (N, 2N, 4N, ...)
	// but not monotonically from one N to the next.
	Approximate
)

const (
	// DefaultSphereVolume is a 1 cm³ sphere, expressed in mm³.
	DefaultSphereVolume = 1000.0

	// DefaultSamplingFactor is the per-axis subsample count for Approximate kernels.
	DefaultSamplingFactor = 10

	// ExactTolerance bounds |kernel volume - sphere volume| / sphere volume
	// for Exact kernels.
	ExactTolerance = 1e-3

	// ApproximateTolerance bounds the same ratio for Approximate kernels
	// built with a sampling factor of at least 16.
	ApproximateTolerance = 1e-2

	// weights at or below this are quadrature noise
	minWeight = 1e-12
)

var (
	// ErrInvalidSize is returned for a non-positive sphere volume or radius.
	ErrInvalidSize = errors.New("peak: sphere volume or radius must be positive")

	// ErrInvalidSamplingFactor is returned for a non-positive sampling factor.
	ErrInvalidSamplingFactor = errors.New("peak: sampling factor must be positive")

	// ErrUnknownMode is returned for a Mode outside Exact and Approximate.
	ErrUnknownMode = errors.New("peak: unknown kernel mode")
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Approximate:
		return "approximate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "exact" or "approximate" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return Exact, nil
	case "approximate", "approx":
		return Approximate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// KernelConfig holds the parameters of the peak kernel
type KernelConfig struct {
	// Mode selects exact or supersampled boundary weights
	Mode Mode

	// SphereVolume is the requested sphere volume in mm³.
	// Ignored when SphereRadius is set.
	SphereVolume float64

	// SphereRadius is the requested sphere radius in mm
	SphereRadius float64

	// SamplingFactor is the number of subsamples per axis for Approximate mode
	SamplingFactor int
}

// DefaultKernelConfig returns an exact 1 cm³ kernel configuration.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		Mode:           Exact,
		SphereVolume:   DefaultSphereVolume,
		SamplingFactor: DefaultSamplingFactor,
	}
}

// Radius resolves the sphere radius in mm from the configuration.
func (c KernelConfig) Radius() (float64, error) {
	if c.SphereRadius != 0 {
		if !(c.SphereRadius > 0) || math.IsInf(c.SphereRadius, 0) {
			return 0, fmt.Errorf("%w: radius %g", ErrInvalidSize, c.SphereRadius)
		}
		return c.SphereRadius, nil
	}
	if !(c.SphereVolume > 0) || math.IsInf(c.SphereVolume, 0) {
		return 0, fmt.Errorf("%w: volume %g", ErrInvalidSize, c.SphereVolume)
	}
	return RadiusForVolume(c.SphereVolume), nil
}

// Validate checks the configuration without building a kernel.
func (c KernelConfig) Validate() error {
	if c.Mode != Exact && c.Mode != Approximate {
		return fmt.Errorf("%w: %v", ErrUnknownMode, c.Mode)
	}
	if _, err := c.Radius(); err != nil {
		return err
	}
	if c.Mode == Approximate && c.SamplingFactor <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSamplingFactor, c.SamplingFactor)
	}
	return nil
}

// RadiusForVolume returns the radius of a sphere of the given volume.
func RadiusForVolume(volume float64) float64 {
	return math.Cbrt(3 * volume / (4 * math.Pi))
}

// SphereVolume returns the volume of a sphere of the given radius.
func SphereVolume(radius float64) float64 {
	return 4 * math.Pi * radius * radius * radius / 3
}

// Entry is one non-zero kernel coefficient
type Entry struct {
	// Offset is the voxel displacement from the kernel center
	Offset models.Index

	// Weight is the fraction of the voxel inside the sphere, in (0, 1]
	Weight float64
}

// Kernel is a discretized sphere on a voxel grid
type Kernel struct {
	// Radius is the sphere radius in mm
	Radius float64

	// Extent is the largest absolute offset along each axis
	Extent [models.Dim]int

	// Spacing is the voxel size the kernel was built for
	Spacing [models.Dim]float64

	// Mode and SamplingFactor record how boundary weights were obtained
	Mode           Mode
	SamplingFactor int

	// Entries lists non-zero coefficients in z, y, x traversal order
	Entries []Entry
}

// NewKernel builds a spherical kernel for a grid with the given spacing.
//
// Every voxel offset whose box intersects the sphere is classified by the
// nearest and farthest points of its box: boxes entirely inside get weight 1,
// boxes entirely outside are dropped, and the rest get the fraction of their
// volume inside the sphere, either integrated (Exact) or estimated from an
// N×N×N grid of subsample centers (Approximate).
func NewKernel(spacing [models.Dim]float64, cfg KernelConfig) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for d := 0; d < models.Dim; d++ {
		if !(spacing[d] > 0) || math.IsInf(spacing[d], 0) {
			return nil, fmt.Errorf("peak: spacing along axis %d must be positive, got %g", d, spacing[d])
		}
	}
	radius, _ := cfg.Radius()

	k := &Kernel{
		Radius:  radius,
		Spacing: spacing,
		Mode:    cfg.Mode,
	}
	if cfg.Mode == Approximate {
		k.SamplingFactor = cfg.SamplingFactor
	}
	for d := 0; d < models.Dim; d++ {
		k.Extent[d] = max(int(math.Ceil(radius/spacing[d]-0.5)), 0)
	}

	overlap := newOverlapCache(radius, spacing)
	voxelVolume := spacing[0] * spacing[1] * spacing[2]
	r2 := radius * radius

	for z := -k.Extent[2]; z <= k.Extent[2]; z++ {
		for y := -k.Extent[1]; y <= k.Extent[1]; y++ {
			for x := -k.Extent[0]; x <= k.Extent[0]; x++ {
				offset := models.Index{x, y, z}
				lo, hi := voxelBox(offset, spacing)
				near, far := boxDistances(lo, hi)
				if near >= r2 {
					continue
				}

				weight := 1.0
				if far > r2 {
					if cfg.Mode == Exact {
						weight = overlap.voxel(offset) / voxelVolume
					} else {
						weight = subsampleFraction(lo, hi, r2, cfg.SamplingFactor)
					}
				}
				weight = math.Min(weight, 1)
				if weight <= minWeight {
					continue
				}
				k.Entries = append(k.Entries, Entry{Offset: offset, Weight: weight})
			}
		}
	}

	return k, nil
}

// VoxelVolume returns the volume of one voxel of the kernel grid in mm³.
func (k *Kernel) VoxelVolume() float64 {
	return k.Spacing[0] * k.Spacing[1] * k.Spacing[2]
}

// WeightSum returns the sum of all kernel weights.
func (k *Kernel) WeightSum() float64 {
	w := make([]float64, len(k.Entries))
	for i, e := range k.Entries {
		w[i] = e.Weight
	}
	return floats.Sum(w)
}

// Volume returns Σ(weight × voxel volume), the physical volume the kernel covers.
func (k *Kernel) Volume() float64 {
	return k.WeightSum() * k.VoxelVolume()
}

// SphereVolume returns the volume of the ideal sphere the kernel approximates.
func (k *Kernel) SphereVolume() float64 {
	return SphereVolume(k.Radius)
}

// RelativeError returns |Volume - SphereVolume| / SphereVolume.
func (k *Kernel) RelativeError() float64 {
	sv := k.SphereVolume()
	return math.Abs(k.Volume()-sv) / sv
}

// Weight returns the coefficient at offset, or 0 when it is not part of the kernel.
func (k *Kernel) Weight(offset models.Index) float64 {
	for _, e := range k.Entries {
		if e.Offset == offset {
			return e.Weight
		}
	}
	return 0
}

// Deviation returns Σ|wa - wb| × voxel volume over the union of both
// kernels' offsets. Both kernels must share the same spacing. Against an
// Exact kernel it measures supersampling error, which can rise between
// consecutive sampling factors and falls reliably along doubling sequences.
func Deviation(a, b *Kernel) float64 {
	weights := make(map[models.Index]float64, len(a.Entries))
	for _, e := range a.Entries {
		weights[e.Offset] = e.Weight
	}
	var total float64
	for _, e := range b.Entries {
		total += math.Abs(weights[e.Offset] - e.Weight)
		delete(weights, e.Offset)
	}
	for _, w := range weights {
		total += w
	}
	return total * a.VoxelVolume()
}

// voxelBox returns the physical extent of the voxel at offset, relative to
// the kernel center.
func voxelBox(offset models.Index, spacing [models.Dim]float64) (lo, hi [models.Dim]float64) {
	for d := 0; d < models.Dim; d++ {
		lo[d] = (float64(offset[d]) - 0.5) * spacing[d]
		hi[d] = (float64(offset[d]) + 0.5) * spacing[d]
	}
	return lo, hi
}

// boxDistances returns the squared distances from the origin to the nearest
// and farthest points of the box.
func boxDistances(lo, hi [models.Dim]float64) (near, far float64) {
	for d := 0; d < models.Dim; d++ {
		a, b := math.Abs(lo[d]), math.Abs(hi[d])
		if lo[d] > 0 || hi[d] < 0 {
			n := math.Min(a, b)
			near += n * n
		}
		f := math.Max(a, b)
		far += f * f
	}
	return near, far
}

// subsampleFraction estimates the fraction of the box inside the sphere from
// n×n×n evenly spaced subsample centers.
func subsampleFraction(lo, hi [models.Dim]float64, r2 float64, n int) float64 {
	var step [models.Dim]float64
	for d := 0; d < models.Dim; d++ {
		step[d] = (hi[d] - lo[d]) / float64(n)
	}
	inside := 0
	for k := 0; k < n; k++ {
		z := lo[2] + (float64(k)+0.5)*step[2]
		for j := 0; j < n; j++ {
			y := lo[1] + (float64(j)+0.5)*step[1]
			for i := 0; i < n; i++ {
				x := lo[0] + (float64(i)+0.5)*step[0]
				if x*x+y*y+z*z <= r2 {
					inside++
				}
			}
		}
	}
	return float64(inside) / float64(n*n*n)
}
