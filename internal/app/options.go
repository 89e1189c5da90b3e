package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/blacklist"
	"proxyfinder/internal/config"
	"proxyfinder/internal/database"
	"proxyfinder/internal/directory"
	proxyqueue "proxyfinder/internal/jobs/queue/proxy"
	"proxyfinder/internal/jobs/scraper"
	"proxyfinder/internal/pool"
	"proxyfinder/internal/support"
)

func parsePorts(raw []string) ([]uint16, error) {
	ports := make([]uint16, 0, len(raw))
	for _, entry := range raw {
		// Env values arrive as one comma separated string.
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			port, err := strconv.ParseUint(part, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q: %w", part, err)
			}
			ports = append(ports, uint16(port))
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports given")
	}
	return ports, nil
}

// parseHeaders reads "Name: value" pairs.
func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(http.Header, len(raw))
	for _, entry := range raw {
		name, value, found := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", entry)
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return headers, nil
}

// parseValues reads "key=value" pairs.
func parseValues(raw []string) (url.Values, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	values := make(url.Values, len(raw))
	for _, entry := range raw {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid value %q, want key=value", entry)
		}
		values.Add(key, value)
	}
	return values, nil
}

func addPoolFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("pool", "", "Load the pool from a file with one host:port per line")
	flags.StringSlice("scrape", nil, "Load the pool from proxies listed on these pages")
	flags.Bool("from-db", false, "Load the pool from the database")
	flags.Int("from-queue", -1, "Load up to N proxies from the Redis queue, 0 for all")
	flags.String("country", "", "Country filter when loading from the directory or database")
	flags.Int("count", 0, "Number of proxies to request from the directory")
	flags.String("directory", "", "Root URL of the proxy directory")
	flags.Int("max-threads", pool.DefaultMaxThreads, "Worker count for batch requests")
	flags.Float64("timeout", pool.DefaultTimeout.Seconds(), "Per-request timeout in seconds, 0 disables it")
	flags.Int("max-attempts", 0, "Give up after N attempts, 0 retries forever")
	flags.Float64("deadline", 0, "Give up after this many seconds, 0 retries forever")
	flags.String("protocol", support.ProtocolHTTP, "Proxy protocol, http or socks5")
}

// loadPool builds a pool from the first configured source: a file, scraped
// pages, the database, the Redis queue, or the directory.
func loadPool(ctx context.Context, v *viper.Viper) (*pool.Pool, error) {
	cfg := config.GetConfig()
	opts := poolOptions(cfg)

	p, err := loadPoolFrom(ctx, v, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := prepareBlacklist(ctx, cfg); err != nil {
		return nil, err
	}
	if !blacklist.Active() {
		return p, nil
	}

	allowed, blocked := blacklist.FilterProxies(p.Proxies())
	if len(blocked) == 0 {
		return p, nil
	}
	log.Info("Dropped blacklisted proxies from the pool", "blocked", len(blocked), "kept", len(allowed))
	return pool.New(allowed, opts...), nil
}

func loadPoolFrom(ctx context.Context, v *viper.Viper, cfg config.Config, opts []pool.Option) (*pool.Pool, error) {
	switch {
	case v.GetString("pool") != "":
		return pool.FromFile(v.GetString("pool"), opts...)

	case len(v.GetStringSlice("scrape")) > 0:
		source := scraper.Source{Scraper: newScraper(cfg), URLs: v.GetStringSlice("scrape")}
		return pool.FromSource(ctx, source, opts...)

	case v.GetBool("from-db"):
		if _, err := openDatabase(v); err != nil {
			return nil, err
		}
		return pool.FromDatabase(ctx, database.ProxyFilter{Country: v.GetString("country")}, opts...)

	case v.GetInt("from-queue") >= 0:
		queue, err := proxyqueue.Connect(ctx, cfg.Redis.QueueKey)
		if err != nil {
			return nil, err
		}
		defer queue.Close()
		return pool.FromQueue(ctx, queue, v.GetInt("from-queue"), opts...)

	default:
		listOptions := directory.ListOptions{Country: v.GetString("country")}
		if count := v.GetInt("count"); count > 0 {
			listOptions.Count = &count
		}
		return pool.FromDirectory(ctx, newDirectoryClient(cfg), listOptions, opts...)
	}
}

// prepareBlacklist loads the configured blacklist entries and sources.
func prepareBlacklist(ctx context.Context, cfg config.Config) error {
	if len(cfg.Blacklist.Entries) == 0 && len(cfg.Blacklist.Sources) == 0 {
		return nil
	}
	_, err := blacklist.Refresh(ctx, "startup")
	return err
}

func poolOptions(cfg config.Config) []pool.Option {
	opts := []pool.Option{
		pool.WithMaxThreads(cfg.Pool.MaxThreads),
		pool.WithTimeout(cfg.PoolTimeout()),
	}

	var conditions []pool.StopCondition
	if cfg.Pool.MaxAttempts > 0 {
		conditions = append(conditions, pool.MaxAttempts(cfg.Pool.MaxAttempts))
	}
	if deadline := cfg.PoolDeadline(); deadline > 0 {
		conditions = append(conditions, pool.Deadline(deadline))
	}
	if len(conditions) > 0 {
		opts = append(opts, pool.WithStopCondition(pool.AnyOf(conditions...)))
	}
	return opts
}

func newDirectoryClient(cfg config.Config) *directory.Client {
	var opts []directory.Option
	if timeout := cfg.DirectoryTimeout(); timeout > 0 {
		opts = append(opts, directory.WithTimeout(timeout))
	}
	return directory.New(cfg.Directory.Root, opts...)
}

func newScraper(cfg config.Config) *scraper.Scraper {
	return scraper.New(
		scraper.WithTimeout(cfg.ScraperTimeout()),
		scraper.WithUserAgent(cfg.Scraper.UserAgent),
		scraper.WithRobots(cfg.Scraper.RespectRobots),
		scraper.WithConcurrency(cfg.Scraper.Concurrency),
	)
}

func addRequestFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("method", "X", http.MethodGet, "HTTP method")
	flags.String("scheme", "https", "Only urls with this scheme go through the proxy")
	flags.StringArrayP("header", "H", nil, "Request header as \"Name: value\", repeatable")
	flags.StringArray("param", nil, "Query parameter as key=value, repeatable")
	flags.StringArray("data", nil, "Form field as key=value, repeatable")
}

func requestOptions(cmd *cobra.Command, v *viper.Viper) (pool.RequestOptions, error) {
	flags := cmd.Flags()
	rawHeaders, _ := flags.GetStringArray("header")
	rawParams, _ := flags.GetStringArray("param")
	rawData, _ := flags.GetStringArray("data")

	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return pool.RequestOptions{}, err
	}
	params, err := parseValues(rawParams)
	if err != nil {
		return pool.RequestOptions{}, err
	}
	data, err := parseValues(rawData)
	if err != nil {
		return pool.RequestOptions{}, err
	}

	return pool.RequestOptions{
		Method:   v.GetString("method"),
		Scheme:   v.GetString("scheme"),
		Protocol: config.GetConfig().Pool.Protocol,
		Headers:  headers,
		Params:   params,
		Data:     data,
	}, nil
}
