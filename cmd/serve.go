package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"netdash/internal/server"
	"netdash/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir, err := dataDir()
		if err != nil {
			return err
		}
		store, err := storage.Open(dir)
		if err != nil {
			return err
		}

		mgr, err := newManager(store)
		if err != nil {
			return errors.Join(err, store.Close())
		}

		serveErr := server.New(mgr, store, version).ListenAndServe(ctx, viper.GetString("listen"))

		// In-flight runs finish their current wave and are recorded before
		// the store closes.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		return errors.Join(serveErr, mgr.Shutdown(shutdownCtx), store.Close())
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8090", "API listen address")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}
