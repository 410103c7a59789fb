package cmd

import (
	"github.com/spf13/cobra"

	"variagen/job"
	"variagen/jobstore"
	"variagen/logger"
)

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Fail jobs left processing by a previous run, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := jobstore.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := job.Recover(cmd.Context(), store, paths(cfg))
			if err != nil {
				return err
			}
			logger.Infof("recovery complete: %d interrupted job(s) marked as error", len(report.Interrupted))
			return nil
		},
	}
}
