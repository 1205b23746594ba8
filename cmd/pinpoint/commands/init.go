package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
	"pinpoint/internal/domain"
	"pinpoint/internal/keychain"
	"pinpoint/internal/services/identity"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the signing key and the encrypted local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.User == "" {
				return app.ErrUserRequired
			}
			if err := identity.CheckPassphrase(cfg.Passphrase); err != nil {
				return err
			}

			st, err := app.OpenStorage(cfg)
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				return err
			}

			_, created, err := keychain.New(keychain.DefaultService).LoadOrCreate(domain.UserID(cfg.User))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Signing key created for %s.\n", cfg.User)
			} else {
				fmt.Fprintf(out, "Signing key for %s already exists.\n", cfg.User)
			}
			fmt.Fprintf(out, "Store ready in %s. Run register next.\n", cfg.Home)
			return nil
		},
	}
}
