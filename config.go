package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
	"github.com/kwv/submesh/report"
)

// Config is the YAML configuration of the submesh CLI.
type Config struct {
	Submap       objmap.SubmapParams      `yaml:"submap"`
	Registration align.RegistrationParams `yaml:"registration"`
	Solver       align.RelaxationConfig   `yaml:"solver"`
	Align        align.PairOptions        `yaml:"align"`
	MQTT         report.MQTTConfig        `yaml:"mqtt"`
	Store        StoreConfig              `yaml:"store"`
	Output       OutputConfig             `yaml:"output"`
}

// StoreConfig locates the SQLite run store. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig controls files written by the CLI.
type OutputConfig struct {
	Dir     string `yaml:"dir"`
	GeoJSON bool   `yaml:"geojson"`
	// SimplifyTolerance is the Douglas-Peucker tolerance for exported trajectories.
	SimplifyTolerance float64 `yaml:"simplify_tolerance"`
	// MinAssociations filters exported association lines per pair.
	MinAssociations int `yaml:"min_associations"`
	// GTMaxGap is the largest trajectory gap bridged when interpolating ground truth.
	GTMaxGap float64 `yaml:"gt_max_gap"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Submap:       objmap.DefaultSubmapParams(),
		Registration: align.DefaultRegistrationParams(),
		Solver:       align.DefaultRelaxationConfig(),
		Align:        align.PairOptions{SkipEmpty: true},
		Output: OutputConfig{
			Dir:               "out",
			GeoJSON:           true,
			SimplifyTolerance: 0.05,
			MinAssociations:   3,
			GTMaxGap:          1,
		},
	}
}

// LoadConfig loads a YAML config file. Fields missing from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Submap.Validate(); err != nil {
		return fmt.Errorf("submap: %w", err)
	}
	if err := c.Registration.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	if c.Align.Workers < 0 {
		return fmt.Errorf("align.workers must be non-negative, got %d", c.Align.Workers)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Output.SimplifyTolerance < 0 {
		return fmt.Errorf("output.simplify_tolerance must be non-negative")
	}
	if c.Output.GTMaxGap <= 0 {
		return fmt.Errorf("output.gt_max_gap must be positive")
	}
	return nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
