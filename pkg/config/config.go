// Package config provides configuration loading and management for connectomeutils.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/a8m/envsubst"
	"gopkg.in/yaml.v3"

	"connectomeutils/pkg/fsl"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// FSL tool environment
	FSL struct {
		// ConfigScript is sourced before every FSL tool; empty runs tools from PATH
		ConfigScript string `yaml:"configScript"`

		// OutputType is exported as FSLOUTPUTTYPE
		OutputType string `yaml:"outputType"`
	} `yaml:"fsl"`

	// MRtrix tool parameters
	MRtrix struct {
		// Threads is passed to -nthreads
		Threads int `yaml:"threads"`
	} `yaml:"mrtrix"`

	Paths struct {
		// TempDir is the parent of scratch directories; empty uses the system default
		TempDir string `yaml:"tempDir"`
	} `yaml:"paths"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values. The FSL script location
// is taken from FSLDIR at call time.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.FSL.ConfigScript = fsl.DefaultConfigScript()
	cfg.FSL.OutputType = fsl.OutputNiftiGz

	cfg.MRtrix.Threads = 1

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file, expanding ${VAR} references first.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := envsubst.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !fsl.ValidOutputType(c.FSL.OutputType) {
		return fmt.Errorf("fsl.outputType %q must be one of NIFTI_GZ, NIFTI, NIFTI_PAIR, NIFTI_PAIR_GZ", c.FSL.OutputType)
	}
	if c.MRtrix.Threads < 1 {
		return fmt.Errorf("mrtrix.threads must be at least 1, got %d", c.MRtrix.Threads)
	}
	if c.Paths.TempDir != "" {
		info, err := os.Stat(c.Paths.TempDir)
		if err != nil {
			return fmt.Errorf("paths.tempDir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("paths.tempDir %s is not a directory", c.Paths.TempDir)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
