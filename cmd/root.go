// Package cmd holds the variagen command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"variagen/config"
	"variagen/job"
	"variagen/logger"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "variagen",
		Short:         "variagen renders randomized variations of uploaded videos.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a YAML or TOML config file")

	cmd.AddCommand(
		serveCmd(),
		recoverCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return RootCmd().Execute()
}

// setup loads the config named by --config and initializes logging.
func setup(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := logger.Init(cfg.Log.File, cfg.Log.Console || cfg.Log.File == ""); err != nil {
		return config.Config{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func paths(cfg config.Config) job.Paths {
	return job.Paths{OutputDir: cfg.OutputDir(), ArchiveDir: cfg.ArchiveDir()}
}
