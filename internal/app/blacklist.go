package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/blacklist"
	"proxyfinder/internal/database"
)

func newBlacklistCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist [IP...]",
		Short: "Refresh the IP blacklist and test addresses against it",
		Long: `Load the blacklist entries and sources from the settings and print whether
each given address is blocked. --prune-db deletes stored proxies on
blacklisted addresses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			outcome, err := blacklist.Refresh(ctx, "manual")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d addresses and %d ranges from %d sources\n", outcome.IPs, outcome.Ranges, outcome.Sources)

			for _, ip := range args {
				status := "allowed"
				if blacklist.Contains(ip) {
					status = "blocked"
				}
				fmt.Fprintf(out, "%s\t%s\n", ip, status)
			}

			if !v.GetBool("prune-db") {
				return nil
			}
			if _, err := openDatabase(v); err != nil {
				return err
			}
			stored, err := database.GetProxies(ctx, database.ProxyFilter{})
			if err != nil {
				return err
			}
			_, blocked := blacklist.FilterProxies(stored)
			deleted, err := database.DeleteProxies(ctx, blocked)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d stored proxies\n", deleted)
			return nil
		},
	}
	cmd.Flags().Bool("prune-db", false, "Delete stored proxies on blacklisted addresses")
	return cmd
}
