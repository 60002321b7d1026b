package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"quantindices/internal/models"
)

var (
	outlineColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}
	markerColor  = color.RGBA{R: 64, G: 255, B: 64, A: 255}
)

// Viewer renders orthogonal slices of a volume, optionally with the outline
// of a labeled region and a marker at the peak location
type Viewer struct {
	// vol holds the intensities
	vol *models.Volume

	// labels is the optional segmentation drawn as an outline
	labels *models.LabelVolume

	// lo and hi map intensities onto the gray range
	lo, hi float64
}

// NewViewer creates a viewer whose gray window spans the volume's intensity range
func NewViewer(vol *models.Volume) *Viewer {
	v := &Viewer{vol: vol}
	if len(vol.Data) > 0 {
		v.lo, v.hi = floats.Min(vol.Data), floats.Max(vol.Data)
	}
	return v
}

// WithLabels attaches a segmentation sharing the volume's grid
func (v *Viewer) WithLabels(labels *models.LabelVolume) *Viewer {
	models.MustMatch(v.vol.Geometry, labels.Geometry)
	v.labels = labels
	return v
}

// SetWindow sets the intensities mapped to black and white
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// plane describes an axis-aligned slice: its pixel size and the voxel shown
// at each pixel
type plane struct {
	width, height int
	voxel         func(px, py int) models.Index
}

func (v *Viewer) plane(axis string, position int) (plane, error) {
	if position < 0 {
		return plane{}, fmt.Errorf("position must be non-negative")
	}
	size := v.vol.Size
	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= size[0] {
			return plane{}, fmt.Errorf("position %d exceeds width %d", position, size[0])
		}
		return plane{size[2], size[1], func(px, py int) models.Index { return models.Index{position, py, px} }}, nil
	case "y", "Y":
		// Extract slice along XZ plane
		if position >= size[1] {
			return plane{}, fmt.Errorf("position %d exceeds height %d", position, size[1])
		}
		return plane{size[0], size[2], func(px, py int) models.Index { return models.Index{px, position, py} }}, nil
	case "z", "Z":
		// Extract slice along XY plane
		if position >= size[2] {
			return plane{}, fmt.Errorf("position %d exceeds depth %d", position, size[2])
		}
		return plane{size[0], size[1], func(px, py int) models.Index { return models.Index{px, py, position} }}, nil
	default:
		return plane{}, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

func (v *Viewer) gray(value float64) uint16 {
	if !(v.hi > v.lo) {
		return 0
	}
	t := (value - v.lo) / (v.hi - v.lo)
	return uint16(math.Max(0, math.Min(65535, t*65535)))
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}
	img := image.NewGray16(image.Rect(0, 0, p.width, p.height))
	for py := 0; py < p.height; py++ {
		for px := 0; px < p.width; px++ {
			img.SetGray16(px, py, color.Gray16{Y: v.gray(v.vol.At(p.voxel(px, py)))})
		}
	}
	return img, nil
}

// Overlay renders a slice with the boundary of label outlined and, when
// marker lies on the slice, a cross at the marker voxel.
func (v *Viewer) Overlay(axis string, position int, label int32, marker *models.Index) (*image.RGBA, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	inside := func(px, py int) bool {
		if v.labels == nil || px < 0 || py < 0 || px >= p.width || py >= p.height {
			return false
		}
		return v.labels.At(p.voxel(px, py)) == label
	}

	for py := 0; py < p.height; py++ {
		for px := 0; px < p.width; px++ {
			if inside(px, py) && !(inside(px-1, py) && inside(px+1, py) && inside(px, py-1) && inside(px, py+1)) {
				img.SetRGBA(px, py, outlineColor)
				continue
			}
			g := uint8(v.gray(v.vol.At(p.voxel(px, py))) >> 8)
			img.SetRGBA(px, py, color.RGBA{R: g, G: g, B: g, A: 255})
		}
	}

	if marker != nil {
		for py := 0; py < p.height; py++ {
			for px := 0; px < p.width; px++ {
				if p.voxel(px, py) != *marker {
					continue
				}
				for d := -2; d <= 2; d++ {
					img.SetRGBA(px+d, py, markerColor)
					img.SetRGBA(px, py+d, markerColor)
				}
			}
		}
	}
	return img, nil
}

// SaveSlice saves a slice as JPEG when the file name ends in .jpg or .jpeg
// and as PNG otherwise
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// SavePeakSnapshots writes the three orthogonal slices through the peak
// voxel, with the label outlined, and returns the written file names
func (v *Viewer) SavePeakSnapshots(outputDir string, label int32, peak models.Index) ([]string, error) {
	if !v.vol.Contains(peak) {
		return nil, fmt.Errorf("peak %v lies outside the volume", peak)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var files []string
	for d, axis := range []string{"x", "y", "z"} {
		img, err := v.Overlay(axis, peak[d], label, &peak)
		if err != nil {
			return files, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("label%d_peak_%s_%03d.png", label, axis, peak[d]))
		if err := v.SaveSlice(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	return files, nil
}
