// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the "amr-relay worker" subcommand, a standalone
// delivery worker for deployments that run serve with
// temporal.run_worker=false.
func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal delivery worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := dialTemporal(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			w, err := newDeliveryWorker(c, a.cfg, a.logger)
			if err != nil {
				return err
			}

			a.logger.Info("Delivery worker started",
				"task_queue", w.TaskQueue(),
				"temporal", a.cfg.Temporal.HostPort)
			defer a.logger.Info("Delivery worker stopped")

			return w.Run(ctx)
		},
	}
}
