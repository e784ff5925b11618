// Package config provides configuration loading and management for kspacegan.
// Configuration comes from a YAML file with KSPACEGAN_* environment overrides
// and defaults for every key. A loaded Config is validated once and then passed
// by value; nothing mutates it afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"kspacegan/internal/models"
)

// EnvPrefix is the prefix for environment overrides, e.g. KSPACEGAN_MASK_USESEED
const EnvPrefix = "KSPACEGAN"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	// Data selects the volumes to load
	Data struct {
		// Root is the directory holding the volume files
		Root string `yaml:"root" mapstructure:"root"`

		// Challenge is singlecoil or multicoil
		Challenge string `yaml:"challenge" mapstructure:"challenge"`

		// SampleRate is the fraction of volumes to use
		SampleRate float64 `yaml:"sampleRate" mapstructure:"sampleRate"`

		// SampleSeed fixes which volumes SampleRate keeps
		SampleSeed uint64 `yaml:"sampleSeed" mapstructure:"sampleSeed"`
	} `yaml:"data" mapstructure:"data"`

	// Mask describes the undersampling pattern
	Mask struct {
		// Type is random or equispaced
		Type string `yaml:"type" mapstructure:"type"`

		CenterFractions []float64 `yaml:"centerFractions" mapstructure:"centerFractions"`
		Accelerations   []float64 `yaml:"accelerations" mapstructure:"accelerations"`

		// UseSeed gives every slice of a volume the same mask in every epoch
		UseSeed bool `yaml:"useSeed" mapstructure:"useSeed"`
	} `yaml:"mask" mapstructure:"mask"`

	// Transform sets the output geometry
	Transform struct {
		// Resolution is the center crop applied in image space
		Resolution int `yaml:"resolution" mapstructure:"resolution"`

		// PatchSize is the aligned random crop of input and target
		PatchSize int `yaml:"patchSize" mapstructure:"patchSize"`
	} `yaml:"transform" mapstructure:"transform"`

	// Loader controls batching and parallel loading
	Loader struct {
		BatchSize int `yaml:"batchSize" mapstructure:"batchSize"`

		// Workers is the number of concurrent slice loads; 0 uses every CPU
		Workers int `yaml:"workers" mapstructure:"workers"`

		Shuffle  bool   `yaml:"shuffle" mapstructure:"shuffle"`
		Seed     uint64 `yaml:"seed" mapstructure:"seed"`
		DropLast bool   `yaml:"dropLast" mapstructure:"dropLast"`
		Epochs   int    `yaml:"epochs" mapstructure:"epochs"`
	} `yaml:"loader" mapstructure:"loader"`

	// Output parameters
	Output struct {
		// Dir receives previews and the export manifest
		Dir string `yaml:"dir" mapstructure:"dir"`

		// Previews is the number of sample pairs saved as PNG
		Previews int `yaml:"previews" mapstructure:"previews"`
	} `yaml:"output" mapstructure:"output"`

	// Log controls the logger
	Log struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level" mapstructure:"level"`

		// Pretty switches to human-readable console output
		Pretty bool `yaml:"pretty" mapstructure:"pretty"`
	} `yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() Config {
	var cfg Config

	cfg.Data.Root = "data/multicoil_train"
	cfg.Data.Challenge = string(models.MultiCoil)
	cfg.Data.SampleRate = 1.0

	cfg.Mask.Type = "random"
	cfg.Mask.CenterFractions = []float64{0.08}
	cfg.Mask.Accelerations = []float64{4}
	cfg.Mask.UseSeed = true

	cfg.Transform.Resolution = 320
	cfg.Transform.PatchSize = 256

	cfg.Loader.BatchSize = 1
	cfg.Loader.Shuffle = true
	cfg.Loader.Epochs = 1

	cfg.Output.Dir = "export"
	cfg.Output.Previews = 16

	cfg.Log.Level = "info"

	return cfg
}

// setDefaults registers every key so environment overrides apply even when
// the key is absent from the file
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("data.root", cfg.Data.Root)
	v.SetDefault("data.challenge", cfg.Data.Challenge)
	v.SetDefault("data.sampleRate", cfg.Data.SampleRate)
	v.SetDefault("data.sampleSeed", cfg.Data.SampleSeed)
	v.SetDefault("mask.type", cfg.Mask.Type)
	v.SetDefault("mask.centerFractions", cfg.Mask.CenterFractions)
	v.SetDefault("mask.accelerations", cfg.Mask.Accelerations)
	v.SetDefault("mask.useSeed", cfg.Mask.UseSeed)
	v.SetDefault("transform.resolution", cfg.Transform.Resolution)
	v.SetDefault("transform.patchSize", cfg.Transform.PatchSize)
	v.SetDefault("loader.batchSize", cfg.Loader.BatchSize)
	v.SetDefault("loader.workers", cfg.Loader.Workers)
	v.SetDefault("loader.shuffle", cfg.Loader.Shuffle)
	v.SetDefault("loader.seed", cfg.Loader.Seed)
	v.SetDefault("loader.dropLast", cfg.Loader.DropLast)
	v.SetDefault("loader.epochs", cfg.Loader.Epochs)
	v.SetDefault("output.dir", cfg.Output.Dir)
	v.SetDefault("output.previews", cfg.Output.Previews)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.pretty", cfg.Log.Pretty)
}

// LoadConfig loads configuration from a YAML file and the environment.
// If the file doesn't exist, defaults plus environment overrides are used.
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside the pipeline.
func (c Config) Validate() error {
	var problems []string
	if err := models.Challenge(c.Data.Challenge).Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Data.SampleRate <= 0 || c.Data.SampleRate > 1 {
		problems = append(problems, fmt.Sprintf("data.sampleRate %v not in (0, 1]", c.Data.SampleRate))
	}
	if len(c.Mask.CenterFractions) == 0 || len(c.Mask.CenterFractions) != len(c.Mask.Accelerations) {
		problems = append(problems, "mask.centerFractions and mask.accelerations must be non-empty and of equal length")
	}
	if c.Transform.Resolution <= 0 {
		problems = append(problems, "transform.resolution must be positive")
	}
	if c.Transform.PatchSize <= 0 || c.Transform.PatchSize > c.Transform.Resolution {
		problems = append(problems, fmt.Sprintf("transform.patchSize %d must be in (0, resolution]", c.Transform.PatchSize))
	}
	if c.Loader.BatchSize <= 0 {
		problems = append(problems, "loader.batchSize must be positive")
	}
	if c.Loader.Workers < 0 {
		problems = append(problems, "loader.workers must not be negative")
	}
	if c.Loader.Epochs <= 0 {
		problems = append(problems, "loader.epochs must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg Config, configPath string) error {
	// Create directory if it doesn't exist
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
	return SaveConfig(DefaultConfig(), configPath)
}
