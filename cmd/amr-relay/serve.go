// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

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
	"golang.org/x/sync/errgroup"

	"amr-relay/internal/config"
	"amr-relay/internal/delivery"
	"amr-relay/internal/relay"
	"amr-relay/internal/temporal"
	"amr-relay/internal/tracker"
)

// newServeCmd creates the "amr-relay serve" subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Long: "Serves /enqueue_new_mission and /forward_mission_completion.\n" +
			"With delivery.mode=temporal, downstream calls run as Temporal workflows\n" +
			"and an in-process worker is started unless temporal.run_worker is false.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
				if err := a.cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}
			return runServe(ctx, a)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")

	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	g, ctx := errgroup.WithContext(ctx)

	var dispatcher delivery.Dispatcher
	switch cfg.Delivery.Mode {
	case config.DeliveryTemporal:
		c, err := dialTemporal(cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()

		d, err := temporal.NewDispatcher(c, cfg.Temporal.TaskQueue, deliveryOptions(cfg))
		if err != nil {
			return err
		}
		dispatcher = d

		if cfg.Temporal.RunWorker {
			w, err := newDeliveryWorker(c, cfg, logger)
			if err != nil {
				return err
			}
			g.Go(func() error {
				logger.Info("Delivery worker started", "task_queue", w.TaskQueue())
				return w.Run(ctx)
			})
		}
	default:
		d, err := newHTTPDispatcher(cfg, logger, retryPolicy(cfg))
		if err != nil {
			return err
		}
		dispatcher = d
	}

	svc, err := relay.NewService(tracker.New(), dispatcher, relay.Options{
		LockTimeout:      cfg.Relay.LockTimeout,
		OperationTimeout: cfg.Relay.OperationTimeout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Relay listening",
			"addr", srv.Addr,
			"delivery", cfg.Delivery.Mode,
			"backend", cfg.Backend.BaseURL,
			"executor", cfg.Executor.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
