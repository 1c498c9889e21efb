package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/bgremover/internal/assets"
	"github.com/lehigh-university-libraries/bgremover/internal/handlers"
)

// partial downloads older than this are considered abandoned
const partialMaxAge = time.Hour

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the background remover web interface",
		Long: `Starts the bgremover web interface on the specified port.

Drop an image on the page or pick one with "Select Image". The original and
the cut-out are shown side by side and the result can be downloaded as PNG.`,
		Example: `  # Start server on default port 8888
  bgremover serve

  # Start server on custom port
  bgremover serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			service, fetcher, err := newService(cfg)
			if err != nil {
				return err
			}

			handler := handlers.New(handlers.Options{
				Service:     service,
				UploadLimit: cfg.Upload.MaxBytes,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go handler.Run(ctx)

			if fetcher != nil {
				sweeper, err := startSweeper(fetcher, cfg.Assets.SweepSchedule)
				if err != nil {
					return err
				}
				defer sweeper.Stop()
			}

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:    addr,
				Handler: handler.Routes(),
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("bgremover interface available",
					"addr", addr,
					"url", "http://localhost"+addr,
					"segmenter", cfg.Segmenter.Provider,
					"model", cfg.Removal.Model)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				handler.Wait()
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on (overrides BGREMOVER_PORT)")

	return cmd
}

func startSweeper(fetcher *assets.Fetcher, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed, err := fetcher.SweepPartials(partialMaxAge)
		if err != nil {
			slog.Warn("Partial download sweep failed", "err", err)
			return
		}
		if removed > 0 {
			slog.Info("Removed abandoned partial downloads", "count", removed)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
