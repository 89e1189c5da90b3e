package app

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/config"
	"proxyfinder/internal/database"
	"proxyfinder/internal/directory"
	"proxyfinder/internal/domain"
	proxyqueue "proxyfinder/internal/jobs/queue/proxy"
	"proxyfinder/internal/pool"
	"proxyfinder/internal/support"
)

func newFetchCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the proxy list from the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("directory", "", "Root URL of the proxy directory")
	flags.String("country", "", "Only proxies in this country")
	flags.String("region", "", "Only proxies in this region")
	flags.String("city", "", "Only proxies in this city")
	flags.Int("count", 0, "Maximum number of proxies")
	flags.Float64("score", 0, "Minimum score")
	flags.Bool("ordered", false, "Best proxies first")
	addOutputFlags(cmd)
	return cmd
}

func listOptions(v *viper.Viper) directory.ListOptions {
	options := directory.ListOptions{
		Country: v.GetString("country"),
		Region:  v.GetString("region"),
		City:    v.GetString("city"),
	}
	if v.IsSet("count") {
		count := v.GetInt("count")
		options.Count = &count
	}
	if v.IsSet("score") {
		score := v.GetFloat64("score")
		options.Score = &score
	}
	if v.IsSet("ordered") {
		ordered := v.GetBool("ordered")
		options.Ordered = &ordered
	}
	return options
}

func runFetch(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	p, err := pool.FromDirectory(ctx, newDirectoryClient(cfg), listOptions(v))
	if err != nil {
		return err
	}
	return emitProxies(cmd, v, p.Proxies())
}

// emitProxies prints proxies in --format and saves, stores or publishes
// them as the flags ask.
func emitProxies(cmd *cobra.Command, v *viper.Viper, proxies []domain.Proxy) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	fmt.Fprint(cmd.OutOrStdout(), support.FormatProxies(proxies, v.GetString("format")))

	if path := v.GetString("output"); path != "" {
		if err := pool.New(proxies).Save(path); err != nil {
			return err
		}
		log.Info("Saved pool", "path", path, "count", len(proxies))
	}
	if v.GetBool("store") {
		if _, err := openDatabase(v); err != nil {
			return err
		}
		if err := database.SaveProxies(ctx, proxies); err != nil {
			return err
		}
	}
	if v.GetBool("publish") {
		queue, err := proxyqueue.Connect(ctx, cfg.Redis.QueueKey)
		if err != nil {
			return err
		}
		defer queue.Close()
		if err := queue.Publish(ctx, proxies...); err != nil {
			return err
		}
	}
	return nil
}

func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("format", "host:port", "Output format using host, port, country, region, city and score")
	flags.String("output", "", "Save the pool to this file")
	flags.Bool("publish", false, "Push the proxies to the Redis queue")
	flags.Bool("store", false, "Save the proxies to the database")
	flags.String("queue-key", "", "Redis list used with --publish")
}
