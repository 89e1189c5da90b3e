package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/config"
	"proxyfinder/internal/database"
	"proxyfinder/internal/discovery"
	"proxyfinder/internal/domain"
	"proxyfinder/internal/jobs/checker"
)

func newCheckCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [HOST:PORT...]",
		Short: "Check whether proxies work",
		Long: `Ask the directory whether the given proxies work, or probe them locally
with --local the same way search validates candidates. --from-db checks
the stored proxies and --prune-db deletes the dead ones afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proxies := make([]domain.Proxy, 0, len(args))
			for _, arg := range args {
				proxy, err := domain.ParseProxy(arg)
				if err != nil {
					return err
				}
				proxies = append(proxies, proxy)
			}

			if v.GetBool("from-db") || v.GetBool("prune-db") {
				if _, err := openDatabase(v); err != nil {
					return err
				}
				stored, err := database.GetProxies(ctx, database.ProxyFilter{Country: v.GetString("country")})
				if err != nil {
					return err
				}
				proxies = append(proxies, stored...)
			}
			if len(proxies) == 0 {
				return fmt.Errorf("no proxies to check")
			}

			var (
				working []bool
				err     error
			)
			if v.GetBool("local") {
				working = checkLocally(ctx, v, proxies)
			} else {
				cfg := config.GetConfig()
				working, err = newDirectoryClient(cfg).CheckMany(ctx, proxies, cfg.Directory.Concurrency)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			var alive, dead []domain.Proxy
			for i, proxy := range proxies {
				status := "dead"
				if working[i] {
					status = "working"
					alive = append(alive, proxy)
				} else {
					dead = append(dead, proxy)
				}
				fmt.Fprintf(out, "%s\t%s\n", proxy, status)
			}

			if v.GetBool("prune-db") {
				return pruneStored(ctx, alive, dead)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("directory", "", "Root URL of the proxy directory")
	flags.Bool("local", false, "Probe the proxies from this machine instead of asking the directory")
	flags.Int("retries", checker.DefaultRetries, "Extra probes for a failing proxy with --local")
	flags.Int("threads", 0, "Number of probing workers with --local")
	flags.String("try-url", "", "URL fetched through each proxy with --local")
	flags.Bool("from-db", false, "Check the stored proxies too")
	flags.Bool("prune-db", false, "Delete dead stored proxies and record the check on working ones")
	flags.String("country", "", "Only stored proxies in this country")
	return cmd
}

func checkLocally(ctx context.Context, v *viper.Viper, proxies []domain.Proxy) []bool {
	cfg := config.GetConfig()
	prober := discovery.HTTPProber{
		TryURL:         cfg.Discovery.TryURL,
		ConnectTimeout: cfg.ConnectTimeout(),
		CheckTimeout:   cfg.CheckTimeout(),
	}
	results := checker.New(prober,
		checker.WithThreads(cfg.Discovery.Threads),
		checker.WithRetries(v.GetInt("retries")),
	).Check(ctx, proxies)

	working := make([]bool, len(results))
	for i, result := range results {
		working[i] = result.Alive()
		proxies[i] = result.Proxy
		log.Debug("Checked proxy", "proxy", result.Proxy, "verdict", result.Verdict, "attempts", result.Attempt, "duration", result.ResponseTime)
	}
	return working
}

func pruneStored(ctx context.Context, alive, dead []domain.Proxy) error {
	now := time.Now()
	for i := range alive {
		// Rows are matched on host and port, not on the loaded id.
		alive[i].ID = 0
		alive[i].MarkChecked(now)
	}
	if err := database.SaveProxies(ctx, alive); err != nil {
		return err
	}
	deleted, err := database.DeleteProxies(ctx, dead)
	if err != nil {
		return err
	}
	log.Info("Pruned stored proxies", "working", len(alive), "deleted", deleted)
	return nil
}
