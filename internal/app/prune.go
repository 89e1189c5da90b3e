package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/jobs/maintenance"
	"proxyfinder/internal/support"
)

func newPruneCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored proxies that have not been checked recently",
		Long: `Delete the stored proxies whose last successful check is older than
--older-than. With --every the cleanup keeps running on that interval
until interrupted; --leader does the same but lets only one instance
prune at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := openDatabase(v); err != nil {
				return err
			}

			staleAfter := v.GetDuration("older-than")
			if staleAfter <= 0 {
				staleAfter = maintenance.ResolveStaleAfter()
			}

			if v.GetBool("leader") {
				client, err := support.GetRedisClient(ctx)
				if err != nil {
					return err
				}
				defer support.CloseRedisClient()
				return maintenance.StartLeaderStaleCleanup(ctx, client, v.GetDuration("every"), staleAfter)
			}
			if v.IsSet("every") {
				maintenance.StartStaleCleanupRoutine(ctx, v.GetDuration("every"), staleAfter)
				return nil
			}

			removed, err := maintenance.RunStaleCleanup(ctx, staleAfter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d proxies\n", removed)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Duration("older-than", 0, "Age after which a proxy counts as stale (default from PROXYFINDER_STALE_AFTER or 72h)")
	flags.Duration("every", 0, "Keep pruning on this interval")
	flags.Bool("leader", false, "Keep pruning, but only while holding the Redis leader lock")
	return cmd
}
