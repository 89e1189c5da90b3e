package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/config"
)

func newScrapeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape URL...",
		Short: "Collect proxies listed on public proxy-list pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proxies, err := newScraper(config.GetConfig()).ScrapeAll(cmd.Context(), args)
			if err != nil {
				return err
			}
			return emitProxies(cmd, v, proxies)
		},
	}
	addOutputFlags(cmd)
	return cmd
}
