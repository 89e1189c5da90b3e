package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/security"
)

func newSecretCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret VALUE",
		Short: "Turn a password into a value safe to store for serve --password",
		Long: `Seal VALUE with the key in PROXYFINDER_SECRET_KEY, or hash it with bcrypt
when --hash is given. serve accepts either form, as well as plain text.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				stored string
				err    error
			)
			if v.GetBool("hash") {
				stored, err = security.HashSecret(args[0])
			} else {
				stored, err = security.SealSecret(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stored)
			return nil
		},
	}

	cmd.Flags().Bool("hash", false, "Store a bcrypt hash instead of a sealed value")
	return cmd
}
