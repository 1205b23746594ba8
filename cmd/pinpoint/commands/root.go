package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
	"pinpoint/internal/util/logging"
)

var (
	home       string
	passphrase string
	relayURL   string
	user       string
	logLevel   string
	driver     string

	cfg app.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:          "pinpoint",
		Short:        "End-to-end encrypted messaging CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := app.Load(home)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("passphrase") {
				loaded.Passphrase = passphrase
			}
			if flags.Changed("relay") {
				loaded.Relay.URL = relayURL
			}
			if flags.Changed("user") {
				loaded.User = user
			}
			if flags.Changed("log-level") {
				loaded.Log.Level = logLevel
			}
			if flags.Changed("storage") {
				loaded.Storage.Driver = driver
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			return logging.Configure(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&home, "home", "", "config dir (default $PINPOINT_HOME or ~/.pinpoint)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local store")
	pf.StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	pf.StringVarP(&user, "user", "u", "", "your user id on the relay")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&driver, "storage", "", "storage driver (file or sqlite)")

	root.AddCommand(
		initCmd(),
		registerCmd(),
		fingerprintCmd(),
		startSessionCmd(),
		sendCmd(),
		recvCmd(),
		statusCmd(),
	)
	return root.Execute()
}

// withApp opens the app graph for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}
