package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pinpoint/internal/relay"
	"pinpoint/internal/util/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Store-and-forward relay for pinpoint clients",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var addr, level, format string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Configure(logging.Options{Level: level, Format: format}); err != nil {
				return err
			}
			log := logging.For("relay")

			srv := &http.Server{
				Addr:              addr,
				Handler:           relay.NewServer(relay.NewMemory(), log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				log.WithField("addr", addr).Info("relay listening")
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&level, "log-level", "info", "log level")
	cmd.Flags().StringVar(&format, "log-format", "text", "log format (text or json)")
	return cmd
}
