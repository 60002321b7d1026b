package indices

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"quantindices/internal/logging"
	"quantindices/internal/models"
	"quantindices/pkg/peak"
)

// Group selects a family of indices computed together
type Group uint8

const (
	// GroupStatistics covers mean, RMS, deviation, extrema, volume, TLG and
	// the glycolysis partition.
	GroupStatistics Group = 1 << iota
	// GroupQuantiles covers the quartiles and the upper adjacent value.
	GroupQuantiles
	// GroupSAM covers SAM and its background level.
	GroupSAM
	// GroupPeak covers the peak search.
	GroupPeak

	// GroupAll selects every index.
	GroupAll = GroupStatistics | GroupQuantiles | GroupSAM | GroupPeak
)

// Has reports whether every group in o is selected.
func (g Group) Has(o Group) bool { return g&o == o }

// Config enumerates every option of an Engine
type Config struct {
	// Kernel describes the peak sphere
	Kernel peak.KernelConfig

	// Search is the peak candidate policy
	Search peak.SearchConfig

	// Background estimates the SAM background; nil leaves SAM undefined
	Background BackgroundEstimator

	// Groups selects the computed indices; zero means GroupAll
	Groups Group

	// Verbose logs kernel and per-label progress
	Verbose bool
}

// DefaultConfig returns an exact 1 cm³ interior-only peak, every group and
// no background estimator.
func DefaultConfig() Config {
	return Config{
		Kernel: peak.DefaultKernelConfig(),
		Search: peak.DefaultSearchConfig(),
		Groups: GroupAll,
	}
}

func (c Config) groups() Group {
	if c.Groups == 0 {
		return GroupAll
	}
	return c.Groups
}

// Results holds every index of one label. Indices that are undefined or were
// not selected are NaN.
type Results struct {
	Label int32
	Count int

	Mean              float64
	RMS               float64
	Variance          float64
	StandardDeviation float64
	Min               float64
	Max               float64
	SegmentedVolume   float64 // mm³

	FirstQuartile float64
	Median        float64
	ThirdQuartile float64
	UpperAdjacent float64

	TotalLesionGlycolysis float64
	Gly                   [Bins]float64
	Q                     [Bins]float64 // fractions of TotalLesionGlycolysis

	SAMValue      float64
	SAMBackground float64

	PeakValue    float64
	PeakIndex    models.Index
	PeakLocation r3.Vec
	PeakFound    bool
}

// NewResults returns results for label with every index undefined.
func NewResults(label int32) Results {
	nan := math.NaN()
	r := Results{
		Label: label,
		Mean:  nan, RMS: nan, Variance: nan, StandardDeviation: nan,
		Min: nan, Max: nan, SegmentedVolume: nan,
		FirstQuartile: nan, Median: nan, ThirdQuartile: nan, UpperAdjacent: nan,
		TotalLesionGlycolysis: nan,
		SAMValue:              nan, SAMBackground: nan,
		PeakValue:    nan,
		PeakLocation: r3.Vec{X: nan, Y: nan, Z: nan},
	}
	for k := 0; k < Bins; k++ {
		r.Gly[k] = nan
		r.Q[k] = nan
	}
	return r
}

// Engine computes indices over one co-registered volume pair. The volumes
// are read-only for the engine's lifetime. An Engine is safe for concurrent
// use; calls are serialized.
type Engine struct {
	vol    *models.Volume
	labels *models.LabelVolume
	cfg    Config
	kernel *peak.Kernel

	mu      sync.Mutex
	samples SampleList
	sorted  []float64
	cached  bool
}

// NewEngine prepares an engine for vol and labels. It panics if the two
// volumes are not on the same grid, and returns an error for an invalid
// geometry or peak kernel configuration.
func NewEngine(vol *models.Volume, labels *models.LabelVolume, cfg Config) (*Engine, error) {
	models.MustMatch(vol.Geometry, labels.Geometry)
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("indices: %w", err)
	}

	e := &Engine{vol: vol, labels: labels, cfg: cfg}
	if cfg.groups().Has(GroupPeak) {
		k, err := peak.NewKernel(vol.Spacing, cfg.Kernel)
		if err != nil {
			return nil, fmt.Errorf("indices: building peak kernel: %w", err)
		}
		e.kernel = k
		if cfg.Verbose {
			logging.Logf("Peak kernel: %s, radius %.3f mm, %d voxels, volume %.2f mm³ (sphere %.2f mm³)",
				k.Mode, k.Radius, len(k.Entries), k.Volume(), k.SphereVolume())
		}
	}
	return e, nil
}

// Kernel returns the peak kernel, or nil when the peak group is not selected.
func (e *Engine) Kernel() *peak.Kernel { return e.kernel }

// Samples returns the sample list of label, reusing the cached one when the
// label has not changed.
func (e *Engine) Samples(label int32) SampleList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sample(label)
}

func (e *Engine) sample(label int32) SampleList {
	if !e.cached || e.samples.Label != label {
		e.samples = Sample(e.vol, e.labels, label)
		e.sorted = SortedValues(e.samples.Values())
		e.cached = true
	}
	return e.samples
}

// Compute runs the selected index groups for label. An absent label yields
// NaN indices and no error; errors only come from a cancelled ctx.
func (e *Engine) Compute(ctx context.Context, label int32) (Results, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	groups := e.cfg.groups()
	res := NewResults(label)
	samples := e.sample(label)
	res.Count = samples.Len()
	if e.cfg.Verbose {
		logging.Logf("Label %d: %d voxels", label, res.Count)
	}

	stats := ComputeStatistics(samples.Values(), samples.VoxelVolume)
	if groups.Has(GroupStatistics) {
		res.Mean = stats.Mean
		res.RMS = stats.RMS
		res.Variance = stats.Variance
		res.StandardDeviation = stats.StandardDeviation
		res.Min = stats.Min
		res.Max = stats.Max
		res.SegmentedVolume = stats.SegmentedVolume

		gly := ComputeGlycolysis(e.sorted, stats.Mean, samples.VoxelVolume)
		res.TotalLesionGlycolysis = gly.TotalLesionGlycolysis
		res.Gly = gly.Gly
		res.Q = gly.Q
	}

	if groups.Has(GroupQuantiles) {
		q := ComputeQuantiles(e.sorted)
		res.FirstQuartile = q.FirstQuartile
		res.Median = q.Median
		res.ThirdQuartile = q.ThirdQuartile
		res.UpperAdjacent = q.UpperAdjacent
	}

	if groups.Has(GroupSAM) && e.cfg.Background != nil && !samples.Empty() {
		bg := e.cfg.Background.EstimateBackground(e.vol, e.labels, label)
		sam := ComputeSAM(stats.Mean, stats.SegmentedVolume, bg)
		res.SAMValue = sam.Value
		res.SAMBackground = sam.Background
	}

	if groups.Has(GroupPeak) && !samples.Empty() {
		p, err := peak.Search(ctx, e.vol, e.labels, label, e.kernel, e.cfg.Search)
		if err != nil {
			return res, fmt.Errorf("indices: peak search for label %d: %w", label, err)
		}
		if e.cfg.Verbose {
			logging.Logf("Label %d: %d peak candidates", label, p.Candidates)
		}
		if p.Found {
			res.PeakValue = p.Value
			res.PeakIndex = p.Index
			res.PeakLocation = p.Location
			res.PeakFound = true
		}
	}
	return res, nil
}
