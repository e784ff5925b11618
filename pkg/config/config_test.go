package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "multicoil", cfg.Data.Challenge)
	assert.Equal(t, []float64{0.08}, cfg.Mask.CenterFractions)
	assert.Equal(t, []float64{4}, cfg.Mask.Accelerations)
	assert.True(t, cfg.Mask.UseSeed)
	assert.Equal(t, 320, cfg.Transform.Resolution)
	assert.Equal(t, 256, cfg.Transform.PatchSize)
	assert.Zero(t, cfg.Loader.Workers, "worker count is resolved by the loader, not stored")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data:
  root: /data/knee
  challenge: singlecoil
mask:
  type: equispaced
  centerFractions: [0.08, 0.04]
  accelerations: [4, 8]
transform:
  resolution: 160
  patchSize: 128
loader:
  batchSize: 4
  shuffle: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/knee", cfg.Data.Root)
	assert.Equal(t, "singlecoil", cfg.Data.Challenge)
	assert.Equal(t, "equispaced", cfg.Mask.Type)
	assert.Equal(t, []float64{0.08, 0.04}, cfg.Mask.CenterFractions)
	assert.Equal(t, []float64{4, 8}, cfg.Mask.Accelerations)
	assert.Equal(t, 160, cfg.Transform.Resolution)
	assert.Equal(t, 128, cfg.Transform.PatchSize)
	assert.Equal(t, 4, cfg.Loader.BatchSize)
	assert.False(t, cfg.Loader.Shuffle)

	// untouched keys keep their defaults
	assert.True(t, cfg.Mask.UseSeed)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("KSPACEGAN_TRANSFORM_PATCHSIZE", "64")
	t.Setenv("KSPACEGAN_MASK_USESEED", "false")
	t.Setenv("KSPACEGAN_LOG_LEVEL", "debug")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Transform.PatchSize)
	assert.False(t, cfg.Mask.UseSeed)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Data.Root = "/tmp/volumes"
	cfg.Loader.Seed = 42
	cfg.Output.Previews = 3
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "centerFractions:")
	assert.Contains(t, string(data), "patchSize: 256")
	assert.Contains(t, string(data), "workers: 0")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad challenge", func(c *Config) { c.Data.Challenge = "dualcoil" }},
		{"zero sample rate", func(c *Config) { c.Data.SampleRate = 0 }},
		{"mismatched mask lists", func(c *Config) { c.Mask.Accelerations = []float64{4, 8} }},
		{"patch larger than resolution", func(c *Config) { c.Transform.PatchSize = 400 }},
		{"zero batch", func(c *Config) { c.Loader.BatchSize = 0 }},
		{"zero epochs", func(c *Config) { c.Loader.Epochs = 0 }},
		{"negative workers", func(c *Config) { c.Loader.Workers = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transform:\n  patchSize: 1000\n"), 0644))

	_, err := LoadConfig(path)
	assert.True(t, errors.Is(err, ErrInvalid))
}
