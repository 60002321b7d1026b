package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"quantindices/internal/logging"
	"quantindices/internal/models"
	"quantindices/pkg/config"
	"quantindices/pkg/indices"
	"quantindices/pkg/report"
	"quantindices/pkg/visualization"
	"quantindices/pkg/volumeio"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// options holds the parsed command line
type options struct {
	imagePath       string
	labelPath       string
	labelValue      int
	configPath      string
	writeConfig     string
	csvPath         string
	returnParamPath string
	metrics         string
	plots           bool
	snapshot        bool
	outputDir       string
	logfile         string
	workers         int
	kernelMode      string
	sphereVolume    float64
	sphereRadius    float64
	samplingFactor  int
	interiorOnly    bool
	expandSearch    bool
	background      string
	backgroundValue float64
	verbose         bool

	// set records which flags were given explicitly
	set map[string]bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{set: make(map[string]bool)}
	fs.StringVar(&o.imagePath, "image", "", "Grayscale (PET) image, MetaImage .mha/.mhd")
	fs.StringVar(&o.labelPath, "label", "", "Label image on the same grid as -image")
	fs.IntVar(&o.labelValue, "label-value", 1, "Label value to quantify")
	fs.StringVar(&o.configPath, "config", "", "YAML or TOML configuration file")
	fs.StringVar(&o.writeConfig, "write-config", "", "Write the default configuration to this file and exit")
	fs.StringVar(&o.csvPath, "csv", "", "Quantify every non-zero label and write a CSV table to this file")
	fs.StringVar(&o.returnParamPath, "returnparameterfile", "", "Write Name_s = value return parameters to this file")
	fs.StringVar(&o.metrics, "metrics", "all", "Comma separated metrics, e.g. Mean,Volume,Peak")
	fs.BoolVar(&o.plots, "plots", false, "Save histogram and boxplot of the region")
	fs.BoolVar(&o.snapshot, "snapshot", false, "Save orthogonal slices through the peak")
	fs.StringVar(&o.outputDir, "output-dir", "", "Directory for plots and snapshots")
	fs.StringVar(&o.logfile, "log", "", "Send log messages to this rotating file")
	fs.IntVar(&o.workers, "workers", 0, "Peak search workers (default: all available cores)")
	fs.StringVar(&o.kernelMode, "kernel-mode", "", "Peak kernel mode: exact or approximate")
	fs.Float64Var(&o.sphereVolume, "sphere-volume", 0, "Peak sphere volume in mm³ (default 1000)")
	fs.Float64Var(&o.sphereRadius, "sphere-radius", 0, "Peak sphere radius in mm, overrides -sphere-volume")
	fs.IntVar(&o.samplingFactor, "sampling-factor", 0, "Subsamples per axis for approximate kernels (default 10)")
	fs.BoolVar(&o.interiorOnly, "interior-only", true, "Keep the whole peak sphere inside the label")
	fs.BoolVar(&o.expandSearch, "expand-search", false, "Allow peak centers outside the label (needs -interior-only=false)")
	fs.StringVar(&o.background, "background", "", "SAM background: shell, fixed or none")
	fs.Float64Var(&o.backgroundValue, "background-value", 0, "Background level for -background fixed")
	fs.BoolVar(&o.verbose, "verbose", false, "Log kernel and search details")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if o.writeConfig == "" && (o.imagePath == "" || o.labelPath == "") {
		return nil, fmt.Errorf("both -image and -label are required")
	}
	if o.labelValue < math.MinInt32 || o.labelValue > math.MaxInt32 {
		return nil, fmt.Errorf("-label-value %d is outside the label range [%d, %d]",
			o.labelValue, math.MinInt32, math.MaxInt32)
	}
	return o, nil
}

// apply overrides the file configuration with explicitly given flags
func (o *options) apply(cfg *config.Config) {
	if o.set["workers"] {
		cfg.Processing.NumCores = o.workers
	}
	if o.set["verbose"] {
		cfg.Processing.Verbose = o.verbose
	}
	if o.set["kernel-mode"] {
		cfg.Kernel.Mode = o.kernelMode
	}
	if o.set["sphere-volume"] {
		cfg.Kernel.SphereVolume = o.sphereVolume
	}
	if o.set["sphere-radius"] {
		cfg.Kernel.SphereRadius = o.sphereRadius
	}
	if o.set["sampling-factor"] {
		cfg.Kernel.SamplingFactor = o.samplingFactor
	}
	if o.set["interior-only"] {
		cfg.Search.InteriorOnly = o.interiorOnly
	}
	if o.set["expand-search"] {
		cfg.Search.ExpandSearch = o.expandSearch
	}
	if o.set["background"] {
		cfg.Background.Method = o.background
	}
	if o.set["background-value"] {
		cfg.Background.Value = o.backgroundValue
	}
	if o.set["plots"] {
		cfg.Output.Plots = o.plots
	}
	if o.set["output-dir"] {
		cfg.Output.PlotDir = o.outputDir
	}
	if o.set["log"] {
		cfg.Output.Log.Logfile = o.logfile
	}
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("Quantitative indices failed: %v", err)
	}
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	if opts.writeConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.writeConfig); err != nil {
			return err
		}
		fmt.Fprintf(out, "Default configuration written to: %s\n", opts.writeConfig)
		return nil
	}

	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if rotating := cfg.Output.Log.Apply(); rotating != nil {
		defer rotating.Close()
	}

	sel, err := report.ParseSelection(opts.metrics)
	if err != nil {
		return err
	}
	engineCfg, err := cfg.EngineConfig(sel.Groups())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out, "PET QUANTITATIVE INDICES")
	fmt.Fprintf(out, "Version %s\n", version)
	fmt.Fprintln(out, "================================")
	startTime := time.Now()

	fmt.Fprintln(out, "Step 1: Reading volumes...")
	vol, err := volumeio.ReadVolume(opts.imagePath)
	if err != nil {
		return err
	}
	labels, err := volumeio.ReadLabelVolume(opts.labelPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "- Image: %v voxels of %v mm (%s voxels)\n", vol.Size, vol.Spacing, humanize.Comma(int64(vol.Len())))
	fmt.Fprintf(out, "- Labels: %v\n", labels.Labels())
	if !vol.SameAs(labels.Geometry, models.GeometryTolerance) {
		return fmt.Errorf("image %s and label %s are not on the same grid; resample the image onto the label grid first",
			opts.imagePath, opts.labelPath)
	}

	fmt.Fprintln(out, "Step 2: Building peak kernel...")
	engine, err := indices.NewEngine(vol, labels, engineCfg)
	if err != nil {
		return err
	}
	if k := engine.Kernel(); k != nil {
		fmt.Fprintf(out, "- %s kernel, radius %.3f mm, %d voxels, volume %.2f mm³\n",
			k.Mode, k.Radius, len(k.Entries), k.Volume())
	}

	fmt.Fprintln(out, "Step 3: Computing indices...")
	if opts.csvPath != "" {
		err = runCSV(ctx, engine, labels, sel, opts, out)
	} else {
		err = runLabel(ctx, engine, vol, labels, sel, cfg, opts, out)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nCompleted in %.2f seconds\n", time.Since(startTime).Seconds())
	return nil
}

func runLabel(ctx context.Context, engine *indices.Engine, vol *models.Volume, labels *models.LabelVolume,
	sel report.Selection, cfg *config.Config, opts *options, out io.Writer) error {
	label := int32(opts.labelValue)
	res, err := engine.Compute(ctx, label)
	if err != nil {
		return err
	}
	if res.Count == 0 {
		logging.Logf("Label %d not found in %s", label, opts.labelPath)
	}
	fmt.Fprintf(out, "- Label %d: %s voxels\n", label, humanize.Comma(int64(res.Count)))
	if cfg.Output.Verbose {
		if err := report.WriteSummary(out, res, sel); err != nil {
			return err
		}
	}

	if opts.returnParamPath != "" {
		if err := writeFile(opts.returnParamPath, func(w io.Writer) error {
			return report.WriteReturnParameters(w, &res, sel, version)
		}); err != nil {
			return err
		}
	}

	if cfg.Output.Plots && res.Count > 0 {
		files, err := visualization.PlotDistribution(engine.Samples(label).Values(), label, cfg.Output.PlotDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(out, "Plot saved to: %s\n", f)
		}
	}
	if opts.snapshot && res.PeakFound {
		viewer := visualization.NewViewer(vol).WithLabels(labels)
		files, err := viewer.SavePeakSnapshots(cfg.Output.PlotDir, label, res.PeakIndex)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(out, "Snapshot saved to: %s\n", f)
		}
	}
	return nil
}

func runCSV(ctx context.Context, engine *indices.Engine, labels *models.LabelVolume, sel report.Selection, opts *options, out io.Writer) error {
	var results []indices.Results
	for _, label := range labels.Labels() {
		if label < 0 {
			continue
		}
		res, err := engine.Compute(ctx, label)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "- Label %d: %s voxels\n", label, humanize.Comma(int64(res.Count)))
		results = append(results, res)
	}

	fmt.Fprintf(out, "Writing to file %s\n", opts.csvPath)
	if err := writeFile(opts.csvPath, func(w io.Writer) error {
		return report.WriteCSV(w, results, sel)
	}); err != nil {
		return err
	}
	if opts.returnParamPath != "" {
		return writeFile(opts.returnParamPath, func(w io.Writer) error {
			return report.WriteReturnParameters(w, nil, sel, version)
		})
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}
