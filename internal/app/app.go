package app

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"proxyfinder/internal/app/version"
	"proxyfinder/internal/config"
)

const envPrefix = "PROXYFINDER"

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found. Falling back to system environment variables.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand(viper.New()).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Every flag can also be set through
// a PROXYFINDER_<FLAG> environment variable, dashes becoming underscores.
func NewRootCommand(v *viper.Viper) *cobra.Command {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "proxyfinder",
		Short:         "Find, check and use open HTTP proxies",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			setLogLevel(v.GetBool("debug"))

			if err := config.ReadSettings(v.GetString("settings")); err != nil {
				return err
			}
			config.Override(applyOverrides(v, config.GetConfig()))
			return nil
		},
	}

	root.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	root.PersistentFlags().String("settings", config.DefaultSettingsPath, "Path to the JSON settings file")
	root.PersistentFlags().Bool("skip-migrate", false, "Do not migrate the proxy table when connecting to the database")

	root.AddCommand(
		newSearchCommand(v),
		newFetchCommand(v),
		newScrapeCommand(v),
		newRequestCommand(v),
		newBatchCommand(v),
		newCheckCommand(v),
		newGeoCommand(v),
		newBlacklistCommand(v),
		newServeCommand(v),
		newSecretCommand(v),
		newPruneCommand(v),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(flag *pflag.Flag) {
		if bindErr := v.BindPFlag(flag.Name, flag); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

func setLogLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

// applyOverrides copies the flags and environment variables the user set
// on top of the settings file.
func applyOverrides(v *viper.Viper, cfg config.Config) config.Config {
	if v.IsSet("max-threads") {
		cfg.Pool.MaxThreads = v.GetInt("max-threads")
	}
	if v.IsSet("timeout") {
		cfg.Pool.TimeoutSeconds = v.GetFloat64("timeout")
	}
	if v.IsSet("max-attempts") {
		cfg.Pool.MaxAttempts = v.GetInt("max-attempts")
	}
	if v.IsSet("deadline") {
		cfg.Pool.DeadlineSeconds = v.GetFloat64("deadline")
	}
	if v.IsSet("protocol") {
		cfg.Pool.Protocol = v.GetString("protocol")
	}
	if v.IsSet("threads") {
		cfg.Discovery.Threads = v.GetInt("threads")
	}
	if v.IsSet("try-url") {
		cfg.Discovery.TryURL = v.GetString("try-url")
	}
	if v.IsSet("check-timeout") {
		cfg.Discovery.CheckTimeoutSeconds = v.GetFloat64("check-timeout")
	}
	if v.IsSet("ports") {
		if ports, err := parsePorts(v.GetStringSlice("ports")); err == nil {
			cfg.Discovery.Ports = ports
		} else {
			log.Warn("Ignoring invalid ports override", "error", err)
		}
	}
	if v.IsSet("directory") {
		cfg.Directory.Root = v.GetString("directory")
	}
	if v.IsSet("city-db") {
		cfg.GeoLite.CityDB = v.GetString("city-db")
	}
	if v.IsSet("license-key") {
		cfg.GeoLite.LicenseKey = v.GetString("license-key")
	}
	if v.IsSet("queue-key") {
		cfg.Redis.QueueKey = v.GetString("queue-key")
	}
	return cfg
}
