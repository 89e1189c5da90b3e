package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/config"
	"proxyfinder/internal/geolite"
	"proxyfinder/internal/jobs/runtime"
)

func newGeoCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geo [HOST...]",
		Short: "Look up the location of hosts",
		Long: `Look up hosts in the local GeoLite2-City database, or ask the directory
with --remote. --update downloads a fresh database first and --refresh-db
locates the stored proxies that have no location yet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.GetConfig()

			if v.GetBool("update") {
				if _, err := runtime.RunGeoLiteUpdate(ctx, "manual", true); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()

			if v.GetBool("refresh-db") {
				locator, err := geolite.Open(cfg.GeoLite.CityDB)
				if err != nil {
					return err
				}
				defer locator.Close()
				if _, err := openDatabase(v); err != nil {
					return err
				}
				scanned, updated, err := runtime.RefreshStoredGeo(ctx, locator, v.GetInt("limit"))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "located %d of %d stored proxies\n", updated, scanned)
			}
			if len(args) == 0 {
				return nil
			}

			if v.GetBool("remote") {
				client := newDirectoryClient(cfg)
				for _, host := range args {
					resp, err := client.Geo(ctx, host)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%s/%s/%s\n", host, resp.Geo.Country, resp.Geo.Region, resp.Geo.City)
				}
				return nil
			}

			locator, err := geolite.Open(cfg.GeoLite.CityDB)
			if err != nil {
				return err
			}
			defer locator.Close()

			for _, host := range args {
				location, err := locator.Lookup(ctx, host)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s/%s/%s\n", host, location.Country, location.Region, location.City)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Bool("remote", false, "Ask the directory instead of the local database")
	flags.Bool("update", false, "Download the GeoLite2-City database first")
	flags.Bool("refresh-db", false, "Locate stored proxies without a location")
	flags.Int("limit", 0, "Maximum stored proxies scanned by --refresh-db, 0 for all")
	flags.String("directory", "", "Root URL of the proxy directory")
	flags.String("city-db", "", "Path of the GeoLite2-City database")
	flags.String("license-key", "", "MaxMind license key used by --update")
	return cmd
}
