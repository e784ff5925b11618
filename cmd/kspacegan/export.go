package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kspacegan/pkg/config"
	"kspacegan/pkg/loader"
	"kspacegan/pkg/metrics"
	"kspacegan/pkg/preview"
	"kspacegan/pkg/transforms"
)

// Manifest records one export run next to its previews
type Manifest struct {
	RunID      string        `json:"run_id"`
	Created    time.Time     `json:"created"`
	Config     config.Config `json:"config"`
	Volumes    int           `json:"volumes"`
	Samples    int           `json:"samples"`
	PatchShape []int         `json:"patch_shape"`
	Previews   []string      `json:"previews"`
	Metrics    []EpochScore  `json:"metrics"`
}

// EpochScore is the mean score of the zero-filled input against its target.
// Samples counts only slices with ground truth.
type EpochScore struct {
	Epoch   int     `json:"epoch"`
	Samples int     `json:"samples"`
	NMSE    float64 `json:"nmse"`
	PSNR    float64 `json:"psnr"`
	SSIM    float64 `json:"ssim"`
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Run the GAN transform over the dataset and write previews and a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := export(cmd, a.cfg)
			if err != nil {
				return err
			}
			renderScores(cmd.OutOrStdout(), manifest.Metrics)
			fmt.Fprintf(cmd.OutOrStdout(), "\nRun %s: %d samples, %d previews in %s\n",
				manifest.RunID, manifest.Samples, len(manifest.Previews), a.cfg.Output.Dir)
			return nil
		},
	}
}

func export(cmd *cobra.Command, cfg config.Config) (*Manifest, error) {
	gan, err := buildGANTransform(cfg)
	if err != nil {
		return nil, err
	}
	ds, err := buildDataset[transforms.Sample](cfg, gan.Transform)
	if err != nil {
		return nil, err
	}
	ld, err := loader.New(ds, loaderOptions(cfg))
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		RunID:   uuid.NewString(),
		Created: time.Now().UTC(),
		Config:  cfg,
		Volumes: len(ds.Volumes()),
	}
	previewDir := filepath.Join(cfg.Output.Dir, "previews")
	started := time.Now()

	for epoch := 0; epoch < cfg.Loader.Epochs; epoch++ {
		var sum metrics.Metrics
		scored := 0

		err := ld.Run(cmd.Context(), epoch, func(batch []transforms.Sample) error {
			if manifest.PatchShape == nil && len(batch) > 0 {
				manifest.PatchShape = batch[0].A.Shape()
			}
			if room := cfg.Output.Previews - len(manifest.Previews); room > 0 {
				paths, err := preview.SaveSequence(previewDir, batch[:min(room, len(batch))], len(manifest.Previews))
				if err != nil {
					return err
				}
				manifest.Previews = append(manifest.Previews, paths...)
			}
			for _, s := range batch {
				if !s.HasTarget {
					continue
				}
				m, err := metrics.Evaluate(s.B, s.A)
				if err != nil {
					return err
				}
				if !finite(m.NMSE, m.PSNR, m.SSIM) {
					continue
				}
				sum.NMSE += m.NMSE
				sum.PSNR += m.PSNR
				sum.SSIM += m.SSIM
				scored++
			}
			manifest.Samples += len(batch)
			return nil
		})
		if err != nil {
			return nil, err
		}

		score := EpochScore{Epoch: epoch, Samples: scored}
		if scored > 0 {
			n := float64(scored)
			score.NMSE, score.PSNR, score.SSIM = sum.NMSE/n, sum.PSNR/n, sum.SSIM/n
		}
		manifest.Metrics = append(manifest.Metrics, score)
		log.Info().Int("epoch", epoch).Int("samples", scored).Float64("ssim", score.SSIM).Msg("epoch exported")
	}

	if err := writeManifest(filepath.Join(cfg.Output.Dir, "manifest.json"), manifest); err != nil {
		return nil, err
	}
	log.Info().Str("run", manifest.RunID).Dur("elapsed", time.Since(started)).Msg("export complete")
	return manifest, nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func writeManifest(path string, m *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func renderScores(w io.Writer, scores []EpochScore) {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

	var data [][]string
	for _, s := range scores {
		data = append(data, []string{strconv.Itoa(s.Epoch), strconv.Itoa(s.Samples), format(s.NMSE), format(s.PSNR), format(s.SSIM)})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"EPOCH", "SAMPLES", "NMSE", "PSNR", "SSIM"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
