package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kspacegan/internal/models"
	"kspacegan/pkg/config"
	"kspacegan/pkg/loader"
	"kspacegan/pkg/mridata"
	"kspacegan/pkg/subsample"
	"kspacegan/pkg/transforms"
)

// app carries the state shared by every subcommand
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "kspacegan",
		Short:         "Paired undersampled/fully-sampled MRI samples for GAN training",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "kspacegan.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		a.synthCmd(),
		a.inspectCmd(),
		a.exportCmd(),
		a.configCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	setupLogging(cfg)
	a.cfg = cfg

	log.Debug().Str("config", a.configPath).Str("challenge", cfg.Data.Challenge).Msg("configuration loaded")
	return nil
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, using info")
	}
}

// buildGANTransform assembles mask, base transform and patch crop from the configuration.
func buildGANTransform(cfg config.Config) (*transforms.GANTransform, error) {
	maskFunc, err := subsample.NewMaskFunc(cfg.Mask.Type, cfg.Mask.CenterFractions, cfg.Mask.Accelerations)
	if err != nil {
		return nil, err
	}
	base, err := transforms.NewDataTransform(maskFunc, transforms.Options{
		Challenge:  models.Challenge(cfg.Data.Challenge),
		Resolution: cfg.Transform.Resolution,
		UseSeed:    cfg.Mask.UseSeed,
	})
	if err != nil {
		return nil, err
	}
	return transforms.NewGANTransform(base, cfg.Transform.PatchSize)
}

// buildDataset indexes the configured data root.
func buildDataset[T any](cfg config.Config, transform mridata.TransformFunc[T]) (*mridata.SliceDataset[T], error) {
	ds, err := mridata.NewSliceDataset(cfg.Data.Root, models.Challenge(cfg.Data.Challenge), transform, mridata.Options{
		SampleRate: cfg.Data.SampleRate,
		Seed:       cfg.Data.SampleSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.Data.Root, err)
	}
	return ds, nil
}

func loaderOptions(cfg config.Config) loader.Options {
	return loader.Options{
		BatchSize: cfg.Loader.BatchSize,
		Workers:   cfg.Loader.Workers,
		Shuffle:   cfg.Loader.Shuffle,
		Seed:      cfg.Loader.Seed,
		DropLast:  cfg.Loader.DropLast,
	}
}
