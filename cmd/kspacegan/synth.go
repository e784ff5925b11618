package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kspacegan/internal/models"
	"kspacegan/pkg/mridata"
	"kspacegan/pkg/phantom"
	"kspacegan/pkg/volume"
)

func (a *app) synthCmd() *cobra.Command {
	var (
		outDir  string
		count   int
		opts    = phantom.DefaultOptions()
		dtypeIn string
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write synthetic phantom volumes",
		Long: `Synthesize Shepp-Logan phantom acquisitions with simulated coil
sensitivities and write them as volume files, one per volume, named
file_000.safetensors, file_001.safetensors, ...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				outDir = a.cfg.Data.Root
			}
			if opts.ReconSize == 0 {
				opts.ReconSize = a.cfg.Transform.Resolution
			}
			opts.Challenge = models.Challenge(a.cfg.Data.Challenge)
			opts.DType = volume.DType(strings.ToUpper(dtypeIn))
			if _, err := opts.DType.Size(); err != nil {
				return err
			}
			return synthesize(cmd, outDir, count, opts)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default data.root)")
	cmd.Flags().IntVarP(&count, "volumes", "n", 3, "Number of volumes")
	cmd.Flags().IntVar(&opts.Slices, "slices", 8, "Slices per volume")
	cmd.Flags().IntVar(&opts.Height, "height", 400, "k-space rows")
	cmd.Flags().IntVar(&opts.Width, "width", 352, "k-space columns")
	cmd.Flags().IntVar(&opts.Coils, "coils", opts.Coils, "Receiver coils for multi-coil volumes")
	cmd.Flags().IntVar(&opts.ReconSize, "recon-size", 0, "Target image size (default transform.resolution)")
	cmd.Flags().BoolVar(&opts.NoTarget, "no-target", false, "Omit the target, as in a test split")
	cmd.Flags().StringVar(&dtypeIn, "dtype", string(volume.F32), "On-disk precision: F16, F32 or F64")
	return cmd
}

func synthesize(cmd *cobra.Command, outDir string, count int, opts phantom.Options) error {
	if count <= 0 {
		return fmt.Errorf("volume count must be positive, got %d", count)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for i := 0; i < count; i++ {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		opts.PatientID = uuid.NewString()
		path := filepath.Join(outDir, fmt.Sprintf("file_%03d%s", i, mridata.Extension))
		vol, err := phantom.WriteVolume(path, opts)
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Info().
			Str("file", path).
			Ints("kspace", vol.KSpace.Shape()).
			Float64("max", vol.Attrs.Max).
			Msg("wrote volume")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d %s volumes to %s\n", count, opts.Challenge, outDir)
	return nil
}
