package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianbh/cadence/adapter/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}

		cfg := api.DefaultServerConfig()
		cfg.Addr = app.Config.APIAddr
		cfg.APIKey = app.Config.APIKey
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}

		handlers := api.Handlers{
			Appointments: api.NewAppointmentHandler(app.Booking, app.Appointments),
			Availability: api.NewAvailabilityHandler(app.Slots, app.Reconciler),
			Connections:  api.NewConnectionHandler(app.Connections),
			Sync:         api.NewSyncHandler(app.Sync, app.Config.SyncLookAheadDays),
			Transfer:     api.NewTransferHandler(app.Transfer, app.Appointments),
		}
		server := api.NewServer(cfg, handlers, logger)

		errCh := make(chan error, 1)
		go func() {
			logger.Info("api server listening", "addr", cfg.Addr)
			errCh <- server.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides API_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
