package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func syncJobsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-jobs",
		Short: "Register SLA jobs for every organization and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.scheduler.Init(ctx); err != nil {
				return fmt.Errorf("sync jobs: %w", err)
			}
			jobs, err := a.scheduler.Jobs(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %d jobs\n", len(jobs))
			for _, key := range jobs {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}
