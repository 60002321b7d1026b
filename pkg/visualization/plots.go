package visualization

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistogramBins is the number of bars of intensity histograms.
const HistogramBins = 32

var errNoValues = errors.New("no values to plot")

// PlotHistogram saves the intensity histogram of a region to filename. The
// format follows the extension (png, svg, pdf, ...).
func PlotHistogram(values []float64, title, filename string) error {
	if len(values) == 0 {
		return fmt.Errorf("histogram %s: %w", filename, errNoValues)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Intensity"
	p.Y.Label.Text = "Voxels"

	bins := min(HistogramBins, len(values))
	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return fmt.Errorf("histogram %s: %w", filename, err)
	}
	p.Add(h)

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

// PlotBoxplot saves a boxplot of the region intensities to filename.
func PlotBoxplot(values []float64, title, filename string) error {
	if len(values) == 0 {
		return fmt.Errorf("boxplot %s: %w", filename, errNoValues)
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Intensity"

	b, err := plotter.NewBoxPlot(vg.Points(40), 0, plotter.Values(values))
	if err != nil {
		return fmt.Errorf("boxplot %s: %w", filename, err)
	}
	p.Add(b)
	p.HideX()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	if err := p.Save(3*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("save boxplot: %w", err)
	}
	return nil
}

// PlotDistribution writes the histogram and boxplot of one label into
// outputDir and returns the written file names.
func PlotDistribution(values []float64, label int32, outputDir string) ([]string, error) {
	hist := filepath.Join(outputDir, fmt.Sprintf("label%d_histogram.png", label))
	if err := PlotHistogram(values, fmt.Sprintf("Label %d intensity histogram", label), hist); err != nil {
		return nil, err
	}
	box := filepath.Join(outputDir, fmt.Sprintf("label%d_boxplot.png", label))
	if err := PlotBoxplot(values, fmt.Sprintf("Label %d", label), box); err != nil {
		return []string{hist}, err
	}
	return []string{hist, box}, nil
}
