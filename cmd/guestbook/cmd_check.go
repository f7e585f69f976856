package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/guestbook/pkg/config"
)

func newCheckCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the token can read the repository",
		Long: `Check reads the default branch, its head commit and the API quota
without writing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.configPath)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			branch, err := client.DefaultBranch(ctx)
			if err != nil {
				return err
			}
			head, err := client.HeadCommit(ctx, branch)
			if err != nil {
				return err
			}
			limit, err := client.RateLimit(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repository: %s\n", client.Repository())
			fmt.Fprintf(out, "default branch: %s at %s\n", branch, head.Short())
			fmt.Fprintf(out, "rate limit: %d/%d remaining, resets %s\n",
				limit.Remaining, limit.Limit, limit.Reset.UTC().Format(time.RFC3339))
			return nil
		},
	}
}
