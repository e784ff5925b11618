package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kspacegan/pkg/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.Root = filepath.Join(dir, "volumes")
	cfg.Transform.Resolution = 32
	cfg.Transform.PatchSize = 16
	cfg.Loader.BatchSize = 2
	cfg.Loader.Workers = 2
	cfg.Output.Dir = filepath.Join(dir, "export")
	cfg.Output.Previews = 3
	cfg.Log.Level = "error"

	path := filepath.Join(dir, "kspacegan.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func TestSynthInspectExport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	out, err := run(t, "--config", cfgPath, "synth", "-n", "2", "--slices", "2", "--height", "48", "--width", "40", "--coils", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 multicoil volumes")

	out, err = run(t, "--config", cfgPath, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "file_000.safetensors")
	assert.Contains(t, out, "file_001.safetensors")
	assert.Contains(t, out, "2 volumes, 4 slices")

	out, err = run(t, "--config", cfgPath, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "4 samples, 3 previews")

	data, err := os.ReadFile(filepath.Join(dir, "export", "manifest.json"))
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))

	assert.NotEmpty(t, manifest.RunID)
	assert.Equal(t, 2, manifest.Volumes)
	assert.Equal(t, 4, manifest.Samples)
	assert.Equal(t, []int{1, 16, 16}, manifest.PatchShape)
	require.Len(t, manifest.Previews, 3)
	for _, p := range manifest.Previews {
		assert.FileExists(t, p)
	}
	require.Len(t, manifest.Metrics, 1)
	assert.Equal(t, 4, manifest.Metrics[0].Samples)
}

func TestExportSkipsSlicesWithoutTarget(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	_, err := run(t, "--config", cfgPath, "synth", "-n", "1", "--slices", "3", "--height", "48", "--width", "40", "--coils", "2", "--no-target")
	require.NoError(t, err)

	_, err = run(t, "--config", cfgPath, "export")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "export", "manifest.json"))
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))

	assert.Equal(t, 3, manifest.Samples)
	require.Len(t, manifest.Metrics, 1)
	assert.Equal(t, 0, manifest.Metrics[0].Samples)
	assert.Zero(t, manifest.Metrics[0].NMSE)
	assert.Zero(t, manifest.Metrics[0].SSIM)
}

func TestExportRejectsOversizedResolution(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	_, err := run(t, "--config", cfgPath, "synth", "-n", "1", "--slices", "1", "--height", "24", "--width", "24", "--recon-size", "16")
	require.NoError(t, err)

	// resolution 32 does not fit a 24x24 image
	_, err = run(t, "--config", cfgPath, "export")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kspacegan.yaml")

	out, err := run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")
	assert.FileExists(t, path)

	_, err = run(t, "--config", path, "config", "init")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "patchSize: 256")
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kspacegan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  challenge: dualcoil\n"), 0644))

	_, err := run(t, "--config", path, "inspect")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
