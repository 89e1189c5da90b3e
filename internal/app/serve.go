package app

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/rotatingproxy"
	"proxyfinder/internal/security"
)

const defaultListenAddress = "127.0.0.1:8899"

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local forward proxy that rotates over the pool",
		Long: `Listen for HTTP proxy clients and send every request, and every CONNECT
tunnel, through a random member of the pool. Failed members are retried
with other ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := loadPool(ctx, v)
			if err != nil {
				return err
			}

			// A sealed password that cannot be opened would reject every client.
			if _, err := security.OpenSecret(v.GetString("password")); err != nil {
				return fmt.Errorf("serve password: %w", err)
			}

			server := rotatingproxy.New(p,
				rotatingproxy.WithCredentials(v.GetString("user"), v.GetString("password")),
				rotatingproxy.WithConnectAttempts(v.GetInt("connect-attempts")),
				rotatingproxy.WithDialTimeout(v.GetDuration("dial-timeout")),
			)
			if err := server.Start(v.GetString("listen")); err != nil {
				return err
			}
			defer server.Stop()

			<-ctx.Done()
			log.Info("Shutting down rotating proxy server")
			return nil
		},
	}

	addPoolFlags(cmd)
	flags := cmd.Flags()
	flags.String("listen", defaultListenAddress, "Address to listen on")
	flags.String("user", "", "Username clients must send, empty disables authentication")
	flags.String("password", "", "Password clients must send, as plain text or the output of the secret command")
	flags.Int("connect-attempts", rotatingproxy.DefaultConnectAttempts, "Pool members tried per CONNECT tunnel")
	flags.Duration("dial-timeout", 0, "Timeout for reaching a pool member, 0 keeps the default")
	return cmd
}
