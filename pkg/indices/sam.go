package indices

import (
	"math"

	"quantindices/internal/models"
)

// BackgroundEstimator supplies the background intensity level subtracted by
// SAM. Implementations return NaN when no background can be estimated.
type BackgroundEstimator interface {
	EstimateBackground(vol *models.Volume, labels *models.LabelVolume, label int32) float64
}

// FixedBackground is a background level known in advance, e.g. measured in a
// separate reference region.
type FixedBackground float64

// EstimateBackground returns the fixed level.
func (f FixedBackground) EstimateBackground(*models.Volume, *models.LabelVolume, int32) float64 {
	return float64(f)
}

// SAM is the standardized added metabolic activity of a region
type SAM struct {
	// Value is (Mean - Background) × SegmentedVolume, in intensity·mm³
	Value float64

	// Background is the subtracted background level
	Background float64
}

// ComputeSAM subtracts the background from the region mean and scales by the
// segmented volume. Both fields are NaN when any input is NaN.
func ComputeSAM(mean, segmentedVolume, background float64) SAM {
	if math.IsNaN(mean) || math.IsNaN(segmentedVolume) || math.IsNaN(background) {
		return SAM{Value: math.NaN(), Background: math.NaN()}
	}
	return SAM{
		Value:      (mean - background) * segmentedVolume,
		Background: background,
	}
}
