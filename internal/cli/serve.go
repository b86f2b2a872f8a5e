package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banux/mathom/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			logger := ctx.logger
			cfg := lib.cfg
			if cfg.Password == "" {
				logger.Warn("AUTH_PASSWORD is not set, authentication is disabled")
			}

			srv := server.New(lib.svc, server.Options{
				Password:       cfg.Password,
				AllowedOrigins: cfg.AllowedOrigins,
				Logger:         logger,
			})
			httpServer := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("mathom starting",
					"addr", cfg.ListenAddr,
					"backend", cfg.Backend,
					"data_dir", cfg.DataDir,
				)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)
			case <-runCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}
