package peak

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/integrate/quad"

	"quantindices/internal/models"
)

// quadraturePoints is the Gauss-Legendre order used on each smooth segment
// of the octant integral.
const quadraturePoints = 48

// overlapCache evaluates sphere/voxel intersection volumes on a kernel grid.
//
// The intersection of the ball |p| <= r with a box is obtained by
// inclusion-exclusion over the eight box corners of the signed octant
// function G(a, b, c) = |ball ∩ [0,a]×[0,b]×[0,c]|. Voxel corners are shared
// between neighbouring boundary voxels, so G is memoized per corner.
type overlapCache struct {
	radius  float64
	spacing [models.Dim]float64
	corners map[models.Index]float64
}

func newOverlapCache(radius float64, spacing [models.Dim]float64) *overlapCache {
	return &overlapCache{
		radius:  radius,
		spacing: spacing,
		corners: make(map[models.Index]float64),
	}
}

// voxel returns the volume of the ball inside the voxel at offset.
func (c *overlapCache) voxel(offset models.Index) float64 {
	var v float64
	for mask := 0; mask < 8; mask++ {
		var corner models.Index
		sign := 1.0
		for d := 0; d < models.Dim; d++ {
			if mask&(1<<d) != 0 {
				corner[d] = offset[d] + 1
			} else {
				corner[d] = offset[d]
				sign = -sign
			}
		}
		v += sign * c.corner(corner)
	}
	return math.Max(v, 0)
}

// corner returns G at the lattice point (j - 0.5) * spacing.
func (c *overlapCache) corner(j models.Index) float64 {
	if g, ok := c.corners[j]; ok {
		return g
	}
	var p [models.Dim]float64
	for d := 0; d < models.Dim; d++ {
		p[d] = (float64(j[d]) - 0.5) * c.spacing[d]
	}
	g := octantVolume(c.radius, p[0], p[1], p[2])
	c.corners[j] = g
	return g
}

// octantVolume returns the signed volume of the ball of radius r inside the
// box spanned by the origin and (a, b, c). The sign is the product of the
// coordinate signs, which makes inclusion-exclusion valid for boxes that
// straddle the center planes.
func octantVolume(r, a, b, c float64) float64 {
	sign := sgn(a) * sgn(b) * sgn(c)
	if sign == 0 {
		return 0
	}
	a = math.Min(math.Abs(a), r)
	b = math.Min(math.Abs(b), r)
	c = math.Min(math.Abs(c), r)

	// The cross-section area as a function of z has kinks where the
	// section radius crosses a, b and the rectangle diagonal.
	r2 := r * r
	breaks := []float64{0, c}
	for _, t := range []float64{a * a, b * b, a*a + b*b} {
		if t < r2 {
			if z := math.Sqrt(r2 - t); z > 0 && z < c {
				breaks = append(breaks, z)
			}
		}
	}
	slices.Sort(breaks)

	section := func(z float64) float64 {
		rr := r2 - z*z
		if rr <= 0 {
			return 0
		}
		return quarterDiskRect(math.Sqrt(rr), a, b)
	}

	var total float64
	for i := 1; i < len(breaks); i++ {
		if breaks[i] > breaks[i-1] {
			total += quad.Fixed(section, breaks[i-1], breaks[i], quadraturePoints, quad.Legendre{}, 0)
		}
	}
	return sign * total
}

// quarterDiskRect returns the area of {0<=x<=a, 0<=y<=b, x²+y²<=r²}.
func quarterDiskRect(r, a, b float64) float64 {
	if r <= 0 || a <= 0 || b <= 0 {
		return 0
	}
	xr := math.Min(a, r)
	if b >= r {
		return circleIntegral(xr, r)
	}
	// below xb the rectangle's top edge is inside the disk
	xb := math.Sqrt(r*r - b*b)
	xm := math.Min(a, xb)
	return b*xm + circleIntegral(xr, r) - circleIntegral(xm, r)
}

// circleIntegral returns ∫₀ˣ √(r²-t²) dt for 0 <= x <= r.
func circleIntegral(x, r float64) float64 {
	ratio := math.Min(x/r, 1)
	return 0.5 * (x*math.Sqrt(math.Max(r*r-x*x, 0)) + r*r*math.Asin(ratio))
}

func sgn(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
