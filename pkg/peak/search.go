package peak

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"quantindices/internal/models"
)

// SearchConfig controls which kernel placements are considered
type SearchConfig struct {
	// InteriorOnly rejects placements whose weighted footprint leaves the
	// labeled region or the image
	InteriorOnly bool

	// ExpandSearch lets the kernel center move up to the kernel extent
	// outside the label's bounding box. Only honored when InteriorOnly is false.
	ExpandSearch bool

	// Workers bounds the number of concurrently scanned z-planes.
	// Zero or less uses every available CPU.
	Workers int
}

// DefaultSearchConfig returns the interior-only policy.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{InteriorOnly: true}
}

// Result is the outcome of a peak search
type Result struct {
	// Value is the maximal kernel-weighted mean, NaN when Found is false
	Value float64

	// Index and Location identify the winning kernel center
	Index    models.Index
	Location r3.Vec

	// Found reports whether any valid placement existed
	Found bool

	// Candidates is the number of valid placements evaluated
	Candidates int
}

// planeBest is the best placement found within one z-plane.
type planeBest struct {
	value      float64
	offset     int
	found      bool
	candidates int
}

// Search finds the kernel placement with the largest weighted mean intensity
// among voxels of the given label.
//
// The candidate z-planes are scanned concurrently; ties are resolved in
// favour of the placement that comes first in x-fastest grid order, so the
// result does not depend on how the planes were scheduled. The volumes must
// share one geometry and the kernel must have been built for its spacing.
func Search(ctx context.Context, vol *models.Volume, labels *models.LabelVolume, label int32, k *Kernel, cfg SearchConfig) (Result, error) {
	models.MustMatch(vol.Geometry, labels.Geometry)
	for d := 0; d < models.Dim; d++ {
		if math.Abs(k.Spacing[d]-vol.Spacing[d]) > models.GeometryTolerance {
			return Result{Value: math.NaN()}, fmt.Errorf("peak: kernel spacing %v does not match volume spacing %v", k.Spacing, vol.Spacing)
		}
	}

	notFound := Result{Value: math.NaN()}
	bounds := labels.LabelBounds(label)
	if bounds.Empty() {
		return notFound, nil
	}
	expand := cfg.ExpandSearch && !cfg.InteriorOnly
	if expand {
		bounds = bounds.Expand(k.Extent, vol.Geometry)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &searcher{
		vol:      vol,
		labels:   labels,
		label:    label,
		kernel:   k,
		interior: cfg.InteriorOnly,
		expand:   expand,
	}

	nz := bounds.Max[2] - bounds.Min[2] + 1
	planes := make([]planeBest, nz)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < nz; i++ {
		z := bounds.Min[2] + i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			planes[i] = s.scanPlane(bounds, z)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return notFound, err
	}

	// planes are ordered by z, so a strict comparison keeps the earliest tie
	best := planeBest{value: math.Inf(-1)}
	total := 0
	for _, p := range planes {
		total += p.candidates
		if p.found && (!best.found || p.value > best.value) {
			best = p
		}
	}
	if !best.found {
		notFound.Candidates = total
		return notFound, nil
	}

	idx := vol.IndexOf(best.offset)
	return Result{
		Value:      best.value,
		Index:      idx,
		Location:   vol.IndexToPoint(idx),
		Found:      true,
		Candidates: total,
	}, nil
}

type searcher struct {
	vol      *models.Volume
	labels   *models.LabelVolume
	label    int32
	kernel   *Kernel
	interior bool
	expand   bool
}

func (s *searcher) scanPlane(b models.Bounds, z int) planeBest {
	best := planeBest{value: math.Inf(-1)}
	for y := b.Min[1]; y <= b.Max[1]; y++ {
		for x := b.Min[0]; x <= b.Max[0]; x++ {
			center := models.Index{x, y, z}
			off := s.vol.Offset(center)
			if !s.expand && s.labels.Data[off] != s.label {
				continue
			}
			score, ok := s.score(center)
			if !ok {
				continue
			}
			best.candidates++
			if !best.found || score > best.value {
				best.value = score
				best.offset = off
				best.found = true
			}
		}
	}
	return best
}

// score returns the weighted mean under the kernel centered at center. With
// the interior policy any weighted voxel outside the image or the label
// invalidates the placement; otherwise voxels outside the image are skipped
// and the remaining weights renormalized.
func (s *searcher) score(center models.Index) (float64, bool) {
	var sum, wsum float64
	for _, e := range s.kernel.Entries {
		idx := center.Add(e.Offset)
		if !s.vol.Contains(idx) {
			if s.interior {
				return 0, false
			}
			continue
		}
		off := s.vol.Offset(idx)
		if s.interior && s.labels.Data[off] != s.label {
			return 0, false
		}
		sum += e.Weight * s.vol.Data[off]
		wsum += e.Weight
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}
