package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/blacklist"
	"proxyfinder/internal/config"
	"proxyfinder/internal/database"
	"proxyfinder/internal/discovery"
	"proxyfinder/internal/domain"
	"proxyfinder/internal/geolite"
	proxyqueue "proxyfinder/internal/jobs/queue/proxy"
	"proxyfinder/internal/jobs/runtime"
	"proxyfinder/internal/pool"
)

func newSearchCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Discover open HTTP proxies by probing random addresses",
		Long: `Probe random IPv4 addresses on the candidate ports and print every address
that answers the try url with status 200 when used as an HTTP proxy.
A negative --count searches until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.Int("count", 10, "Number of proxies to find, negative for no limit")
	flags.Int("threads", 0, "Number of probing workers")
	flags.String("try-url", "", "URL fetched through every candidate")
	flags.Float64("check-timeout", 0, "Timeout of the functional check in seconds")
	flags.StringSlice("ports", nil, "Candidate ports")
	flags.String("output", "", "Save the found proxies to this file")
	flags.Bool("publish", false, "Push every found proxy to the Redis queue")
	flags.Bool("store", false, "Save every found proxy to the database")
	flags.Bool("geo", false, "Annotate found proxies from the local GeoLite database")
	flags.String("city-db", "", "Path of the GeoLite2-City database")
	flags.String("queue-key", "", "Redis list used with --publish")
	return cmd
}

func runSearch(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	if err := prepareBlacklist(ctx, cfg); err != nil {
		return err
	}
	var engineOpts []discovery.Option
	if blacklist.Active() {
		engineOpts = append(engineOpts, discovery.WithGenerator(allowedCandidates(discovery.RandomGenerator(cfg.Discovery.Ports))))
	}

	engine := discovery.New(discovery.Config{
		Threads:        cfg.Discovery.Threads,
		TryURL:         cfg.Discovery.TryURL,
		CheckTimeout:   cfg.CheckTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Ports:          cfg.Discovery.Ports,
	}, engineOpts...)

	var (
		locator *geolite.Locator
		queue   *proxyqueue.RedisProxyQueue
		err     error
	)
	count := v.GetInt("count")
	if count < 0 {
		count = discovery.Unlimited
	}

	if v.GetBool("geo") {
		if _, err := runtime.RunGeoLiteUpdate(ctx, "startup", false); err != nil {
			log.Warn("Continuing with the existing GeoLite database", "error", err)
		}
		if locator, err = geolite.Open(cfg.GeoLite.CityDB); err != nil {
			return err
		}
		defer locator.Close()

		if count == discovery.Unlimited && cfg.GeoLite.AutoUpdate {
			updateCtx, stopUpdates := context.WithCancel(ctx)
			defer stopUpdates()
			go runtime.StartGeoLiteUpdateRoutine(updateCtx, func() {
				if err := locator.Reload(); err != nil {
					log.Error("Failed to reload GeoLite database", "error", err)
				}
			})
		}
	}
	if v.GetBool("publish") {
		if queue, err = proxyqueue.Connect(ctx, cfg.Redis.QueueKey); err != nil {
			return err
		}
		defer queue.Close()
	}
	if v.GetBool("store") {
		if _, err := openDatabase(v); err != nil {
			return err
		}
	}

	var found []domain.Proxy
	out := cmd.OutOrStdout()
	for proxy := range engine.Search(ctx, count) {
		if locator != nil {
			batch := []domain.Proxy{proxy}
			locator.Annotate(ctx, batch)
			proxy = batch[0]
		}
		fmt.Fprintln(out, proxy)

		if queue != nil {
			if err := queue.Publish(ctx, proxy); err != nil {
				log.Error("Failed to publish proxy", "proxy", proxy, "error", err)
			}
		}
		if v.GetBool("store") {
			if err := database.SaveProxies(ctx, []domain.Proxy{proxy}); err != nil {
				log.Error("Failed to store proxy", "proxy", proxy, "error", err)
			}
		}
		found = append(found, proxy)
	}

	stats := engine.Stats()
	log.Info("Search finished", "found", len(found), "probed", stats.Probed, "reachable", stats.Reachable)

	if path := v.GetString("output"); path != "" {
		if err := pool.New(found).Save(path); err != nil {
			return err
		}
	}
	return nil
}

// maxBlacklistRedraws bounds how often a blacklisted candidate is redrawn.
const maxBlacklistRedraws = 64

// allowedCandidates redraws candidates that fall on a blacklisted address.
func allowedCandidates(generate discovery.Generator) discovery.Generator {
	return func() domain.Proxy {
		candidate := generate()
		for range maxBlacklistRedraws {
			if !blacklist.Contains(candidate.Host) {
				break
			}
			candidate = generate()
		}
		return candidate
	}
}
