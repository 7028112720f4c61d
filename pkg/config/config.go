// Package config provides configuration loading and management for ctsim.
// It handles loading configuration from YAML files, provides default values and
// turns the loaded values into the scanner, phantom and reconstruction objects.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"ctsim/pkg/dataio"
	"ctsim/pkg/geometry"
	"ctsim/pkg/materials"
	"ctsim/pkg/noise"
	"ctsim/pkg/phantom"
	"ctsim/pkg/reconstruction"
	"ctsim/pkg/scanner"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Scanner layout. Widths are measured at the isocentre, in cm.
	Scanner struct {
		Radius       float64 `yaml:"radius"`
		Channels     int     `yaml:"channels"`
		ChannelWidth float64 `yaml:"channelWidth"`
		Rows         int     `yaml:"rows"`
		RowWidth     float64 `yaml:"rowWidth"`
	} `yaml:"scanner"`

	// Exposure parameters
	Acquisition struct {
		KVp              float64 `yaml:"kVp"`
		Fluence          float64 `yaml:"fluence"`
		ViewsPerRotation int     `yaml:"viewsPerRotation"`
		FiltrationMM     float64 `yaml:"filtrationMM"`
		FilterMaterial   string  `yaml:"filterMaterial"`
	} `yaml:"acquisition"`

	// Detector noise
	Noise struct {
		// Enabled adds quantum and electronic noise to every detector reading
		Enabled bool `yaml:"enabled"`

		// Seed makes noisy acquisitions reproducible
		Seed uint64 `yaml:"seed"`

		// Electronic is the standard deviation of the constant electronic noise
		Electronic float64 `yaml:"electronic"`
	} `yaml:"noise"`

	// Image grid and reconstruction options
	Reconstruction struct {
		FOV                   float64 `yaml:"fov"`
		GridSize              int     `yaml:"gridSize"`
		BeamHardeningMaterial string  `yaml:"beamHardeningMaterial"`
		DisableBeamHardening  bool    `yaml:"disableBeamHardening"`
	} `yaml:"reconstruction"`

	// Helical scan and interpolation parameters
	Helical struct {
		Pitch               float64   `yaml:"pitch"`
		ZStart              float64   `yaml:"zStart"`
		Rotations           int       `yaml:"rotations"`
		FilterWidth         float64   `yaml:"filterWidth"`
		InterpolationPoints int       `yaml:"interpolationPoints"`
		AbortOnGap          bool      `yaml:"abortOnGap"`
		Slices              []float64 `yaml:"slices"`
	} `yaml:"helical"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// AxialZ is the table position of axial scans
		AxialZ float64 `yaml:"axialZ"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Format is the dump format: "text" or "binary"
		Format string `yaml:"format"`

		// SaveProjections writes the air scan and projection dumps
		SaveProjections bool `yaml:"saveProjections"`

		// SaveImages writes PNG renderings, the profile plot and the profile chart
		SaveImages bool `yaml:"saveImages"`

		// WindowCenter and WindowWidth set the PNG display window in HU
		WindowCenter float64 `yaml:"windowCenter"`
		WindowWidth  float64 `yaml:"windowWidth"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Phantom objects, in insertion order. Exactly one object has parent "None".
	Phantom []PhantomObject `yaml:"phantom"`
}

// PhantomObject describes one object of the phantom hierarchy.
type PhantomObject struct {
	Name     string `yaml:"name"`
	Parent   string `yaml:"parent"`
	Material string `yaml:"material"`
	Shape    Shape  `yaml:"shape"`
}

// Shape describes a cylinder or a sphere.
type Shape struct {
	Type   string     `yaml:"type"`
	Center [3]float64 `yaml:"center,flow"`
	Radius float64    `yaml:"radius"`
	Height float64    `yaml:"height,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Scanner.Radius = 50
	cfg.Scanner.Channels = 512
	cfg.Scanner.ChannelWidth = 0.1
	cfg.Scanner.Rows = 4
	cfg.Scanner.RowWidth = 0.5

	cfg.Acquisition.KVp = 120
	cfg.Acquisition.Fluence = 1e5
	cfg.Acquisition.ViewsPerRotation = 720
	cfg.Acquisition.FiltrationMM = 1
	cfg.Acquisition.FilterMaterial = "aluminum"

	cfg.Noise.Enabled = true
	cfg.Noise.Seed = 1
	cfg.Noise.Electronic = 2

	cfg.Reconstruction.FOV = 25
	cfg.Reconstruction.GridSize = 256
	cfg.Reconstruction.BeamHardeningMaterial = reconstruction.DefaultBeamHardeningMaterial

	cfg.Helical.Pitch = 1
	cfg.Helical.ZStart = -3
	cfg.Helical.Rotations = 4
	cfg.Helical.FilterWidth = 1
	cfg.Helical.InterpolationPoints = 5

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Output.Format = "text"
	cfg.Output.SaveProjections = true
	cfg.Output.SaveImages = true
	cfg.Output.WindowCenter = 40
	cfg.Output.WindowWidth = 400
	cfg.Output.Verbose = true

	// Water cylinder with a bone insert and a soft tissue sphere, in an air world
	cfg.Phantom = []PhantomObject{
		{Name: "world", Parent: phantom.WorldParent, Material: "air", Shape: Shape{Type: "cylinder", Radius: 60}},
		{Name: "body", Parent: "world", Material: "water", Shape: Shape{Type: "cylinder", Radius: 10}},
		{Name: "bone", Parent: "body", Material: "bone", Shape: Shape{Type: "cylinder", Center: [3]float64{0, 5, 0}, Radius: 2}},
		{Name: "lesion", Parent: "body", Material: "softtissue", Shape: Shape{Type: "sphere", Center: [3]float64{-4, -3, 0}, Radius: 1.5}},
	}

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A phantom section in the file replaces the default phantom entirely
	cfg.Phantom = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Phantom) == 0 {
		cfg.Phantom = DefaultConfig().Phantom
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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

// Validate checks for values that no run can use. Values that are only
// questionable, such as an oversized FOV, are left to the components to warn about.
func (c *Config) Validate() error {
	if _, err := c.Geometry(); err != nil {
		return err
	}
	if err := c.AcquisitionSettings().Validate(); err != nil {
		return err
	}
	if c.Noise.Electronic < 0 {
		return fmt.Errorf("electronic noise must be non-negative, got %g", c.Noise.Electronic)
	}
	if c.Reconstruction.FOV <= 0 {
		return fmt.Errorf("reconstruction FOV must be positive, got %g", c.Reconstruction.FOV)
	}
	if c.Reconstruction.GridSize <= 0 {
		return fmt.Errorf("grid size must be positive, got %d", c.Reconstruction.GridSize)
	}
	if c.Helical.Pitch <= 0 {
		return fmt.Errorf("helical pitch must be positive, got %g", c.Helical.Pitch)
	}
	if c.Helical.Rotations <= 0 {
		return fmt.Errorf("helical rotations must be positive, got %d", c.Helical.Rotations)
	}
	if c.Helical.FilterWidth <= 0 {
		return fmt.Errorf("helical filter width must be positive, got %g", c.Helical.FilterWidth)
	}
	if c.Helical.InterpolationPoints < 1 {
		return fmt.Errorf("need at least 1 interpolation point, got %d", c.Helical.InterpolationPoints)
	}
	if _, err := dataio.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if c.Output.WindowWidth < 0 {
		return fmt.Errorf("window width must be non-negative, got %g", c.Output.WindowWidth)
	}

	worlds := 0
	for i, obj := range c.Phantom {
		if obj.Name == "" {
			return fmt.Errorf("phantom object %d has no name", i)
		}
		if obj.Parent == phantom.WorldParent {
			worlds++
		}
		if _, err := obj.Shape.Build(); err != nil {
			return fmt.Errorf("phantom object %s: %w", obj.Name, err)
		}
	}
	if worlds != 1 {
		return fmt.Errorf("phantom needs exactly one object with parent %q, got %d", phantom.WorldParent, worlds)
	}
	return nil
}

// Geometry returns the scanner geometry.
func (c *Config) Geometry() (scanner.Geometry, error) {
	s := c.Scanner
	return scanner.NewGeometry(s.Radius, s.Channels, s.ChannelWidth, s.Rows, s.RowWidth)
}

// AcquisitionSettings returns the exposure settings.
func (c *Config) AcquisitionSettings() scanner.AcquisitionSettings {
	a := c.Acquisition
	s := scanner.AcquisitionSettings{
		KVp:              a.KVp,
		Fluence:          a.Fluence,
		ViewsPerRotation: a.ViewsPerRotation,
		FiltrationMM:     a.FiltrationMM,
		FilterMaterial:   a.FilterMaterial,
	}
	if c.Noise.Enabled {
		s.ElectronicNoise = c.Noise.Electronic
	}
	return s
}

// NoiseSampler returns the detector noise source.
func (c *Config) NoiseSampler() noise.Sampler {
	if !c.Noise.Enabled {
		return noise.None{}
	}
	return noise.NewGaussian(c.Noise.Seed)
}

// ReconstructionSettings returns the image grid.
func (c *Config) ReconstructionSettings() scanner.ReconstructionSettings {
	return scanner.ReconstructionSettings{FOV: c.Reconstruction.FOV, GridSize: c.Reconstruction.GridSize}
}

// ReconstructionParams returns the reconstructor options.
func (c *Config) ReconstructionParams() *reconstruction.Params {
	return &reconstruction.Params{
		NumCores:              c.Processing.NumCores,
		Verbose:               c.Output.Verbose,
		BeamHardeningMaterial: c.Reconstruction.BeamHardeningMaterial,
		DisableBeamHardening:  c.Reconstruction.DisableBeamHardening,
		FilterWidth:           c.Helical.FilterWidth,
		InterpolationPoints:   c.Helical.InterpolationPoints,
		AbortOnGap:            c.Helical.AbortOnGap,
	}
}

// Build creates the geometric shape.
func (s Shape) Build() (geometry.Shape, error) {
	if s.Radius <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %g", s.Radius)
	}
	center := geometry.Vector3{X: s.Center[0], Y: s.Center[1], Z: s.Center[2]}
	switch s.Type {
	case "cylinder", "":
		return geometry.NewCylinder(center, s.Radius, s.Height), nil
	case "sphere":
		return geometry.NewSphere(center, s.Radius), nil
	}
	return nil, fmt.Errorf("unknown shape type %q", s.Type)
}

// BuildPhantom adds the configured objects to a new model and builds its tree.
func (c *Config) BuildPhantom(svc materials.Service) (*phantom.Model, error) {
	m := phantom.NewModel(svc)
	for _, obj := range c.Phantom {
		shape, err := obj.Shape.Build()
		if err != nil {
			return nil, fmt.Errorf("phantom object %s: %w", obj.Name, err)
		}
		if err := m.AddObject(obj.Name, shape, obj.Parent, obj.Material); err != nil {
			return nil, fmt.Errorf("failed to add phantom object %s: %w", obj.Name, err)
		}
	}
	if err := m.MakeTree(); err != nil {
		return nil, fmt.Errorf("failed to build phantom tree: %w", err)
	}
	return m, nil
}
