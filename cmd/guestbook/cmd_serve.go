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

	"github.com/odvcencio/guestbook/pkg/config"
	"github.com/odvcencio/guestbook/pkg/server"
	"github.com/odvcencio/guestbook/pkg/submission"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept guestbook form posts over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			logger := newLogger(cmd.ErrOrStderr(), global.verbose)
			orch, err := newOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			srv := server.New(orch, server.Options{
				Intake: submission.Options{
					HoneypotField:   cfg.Intake.HoneypotField,
					CaptchaAnswer:   cfg.Intake.CaptchaAnswer,
					RequireName:     cfg.Intake.RequireName,
					RequireMessage:  cfg.Intake.RequireMessage,
					MaxMessageBytes: cfg.Intake.MaxMessageBytes,
				},
				RatePerMinute: cfg.RateLimit.PerMinute,
				Burst:         cfg.RateLimit.Burst,
			}, logger)

			httpServer := &http.Server{
				Addr:              cfg.Listen,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting guestbook server", "addr", httpServer.Addr, "repository", cfg.Repository)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PipelineTimeout+5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
