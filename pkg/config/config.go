// Package config provides configuration loading and management for quantindices.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"quantindices/internal/logging"
	"quantindices/pkg/background"
	"quantindices/pkg/indices"
	"quantindices/pkg/peak"
)

// Background estimation methods for SAM
const (
	BackgroundShell = "shell"
	BackgroundFixed = "fixed"
	BackgroundNone  = "none"
)

// Config represents the application configuration loaded from YAML or TOML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores the peak search may use
		NumCores int `yaml:"numCores" toml:"num_cores"`

		// Verbose logs kernel construction and per-label progress
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"processing" toml:"processing"`

	// Peak kernel parameters
	Kernel struct {
		// Mode is "exact" or "approximate"
		Mode string `yaml:"mode" toml:"mode"`

		// SphereVolume is the peak sphere volume in mm³
		SphereVolume float64 `yaml:"sphereVolume" toml:"sphere_volume"`

		// SphereRadius overrides SphereVolume when positive, in mm
		SphereRadius float64 `yaml:"sphereRadius" toml:"sphere_radius"`

		// SamplingFactor is the per-axis subsample count in approximate mode
		SamplingFactor int `yaml:"samplingFactor" toml:"sampling_factor"`
	} `yaml:"kernel" toml:"kernel"`

	// Peak search parameters
	Search struct {
		// InteriorOnly keeps the whole kernel inside the labeled region
		InteriorOnly bool `yaml:"interiorOnly" toml:"interior_only"`

		// ExpandSearch allows kernel centers outside the label
		ExpandSearch bool `yaml:"expandSearch" toml:"expand_search"`
	} `yaml:"search" toml:"search"`

	// SAM background parameters
	Background struct {
		// Method is "shell", "fixed" or "none"
		Method string `yaml:"method" toml:"method"`

		// Inner and Outer bound the shell in voxels
		Inner int `yaml:"inner" toml:"inner"`
		Outer int `yaml:"outer" toml:"outer"`

		// Value is the background level of the fixed method
		Value float64 `yaml:"value" toml:"value"`
	} `yaml:"background" toml:"background"`

	// Output parameters
	Output struct {
		// Verbose prints the per-metric summary of a single label to the console
		Verbose bool `yaml:"verbose" toml:"verbose"`

		// Log optionally sends log messages to a rotating file
		Log logging.FileConfig `yaml:"log" toml:"log"`

		// Plots enables histogram and boxplot output
		Plots bool `yaml:"plots" toml:"plots"`

		// PlotDir is the directory receiving plots and snapshots
		PlotDir string `yaml:"plotDir" toml:"plot_dir"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Verbose = false

	// Set default kernel parameters: a 1 cm³ sphere
	cfg.Kernel.Mode = peak.Exact.String()
	cfg.Kernel.SphereVolume = peak.DefaultSphereVolume
	cfg.Kernel.SamplingFactor = peak.DefaultSamplingFactor

	// Set default search parameters
	cfg.Search.InteriorOnly = true
	cfg.Search.ExpandSearch = false

	// Set default background parameters
	shell := background.DefaultShell()
	cfg.Background.Method = BackgroundShell
	cfg.Background.Inner = shell.Inner
	cfg.Background.Outer = shell.Outer

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.Plots = false
	cfg.Output.PlotDir = "quantindices_plots"

	return cfg
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every option without building anything.
func (c *Config) Validate() error {
	if _, err := c.kernelConfig(); err != nil {
		return err
	}
	if _, err := c.backgroundEstimator(); err != nil {
		return err
	}
	return nil
}

func (c *Config) kernelConfig() (peak.KernelConfig, error) {
	mode, err := peak.ParseMode(c.Kernel.Mode)
	if err != nil {
		return peak.KernelConfig{}, err
	}
	kc := peak.KernelConfig{
		Mode:           mode,
		SphereVolume:   c.Kernel.SphereVolume,
		SphereRadius:   c.Kernel.SphereRadius,
		SamplingFactor: c.Kernel.SamplingFactor,
	}
	if err := kc.Validate(); err != nil {
		return peak.KernelConfig{}, err
	}
	return kc, nil
}

func (c *Config) backgroundEstimator() (indices.BackgroundEstimator, error) {
	switch strings.ToLower(c.Background.Method) {
	case "", BackgroundShell:
		shell := background.Shell{Inner: c.Background.Inner, Outer: c.Background.Outer}
		if err := shell.Validate(); err != nil {
			return nil, err
		}
		return shell, nil
	case BackgroundFixed:
		return indices.FixedBackground(c.Background.Value), nil
	case BackgroundNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown background method %q", c.Background.Method)
	}
}

// EngineConfig converts the file configuration into an engine configuration
// computing the given groups.
func (c *Config) EngineConfig(groups indices.Group) (indices.Config, error) {
	kc, err := c.kernelConfig()
	if err != nil {
		return indices.Config{}, err
	}
	bg, err := c.backgroundEstimator()
	if err != nil {
		return indices.Config{}, err
	}
	return indices.Config{
		Kernel: kc,
		Search: peak.SearchConfig{
			InteriorOnly: c.Search.InteriorOnly,
			ExpandSearch: c.Search.ExpandSearch,
			Workers:      c.Processing.NumCores,
		},
		Background: bg,
		Groups:     groups,
		Verbose:    c.Processing.Verbose,
	}, nil
}
