// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"amr-relay/internal/config"
	"amr-relay/internal/delivery"
	"amr-relay/internal/logging"
	"amr-relay/internal/telemetry"
	"amr-relay/internal/temporal"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root amr-relay command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "amr-relay",
		Short:         "Relay between the task executor and the AMR fleet backend",
		Long:          "amr-relay translates executor StartTask messages into AMR missions\nand forwards mission completions back to the executor.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("amr-relay {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c",
		os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the amr-relay version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "amr-relay %s\n", version)
			return nil
		},
	}
}

// app holds what every long-running subcommand needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer *telemetry.TracerProvider
}

func setup(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Telemetry.ServiceName, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.NewTracerProvider(ctx, &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		CollectorURL:   cfg.Telemetry.CollectorURL,
		Environment:    cfg.Telemetry.Environment,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	return &app{cfg: cfg, logger: logger, tracer: tp}, nil
}

func (r *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.logger.Warn("Tracer shutdown failed", "error", err)
	}
}

// retryPolicy is the in-process retry budget for direct delivery.
func retryPolicy(cfg *config.Config) delivery.RetryPolicy {
	p := delivery.DefaultRetryPolicy()
	p.MaxAttempts = cfg.Delivery.MaxAttempts
	p.InitialBackoff = cfg.Delivery.InitialBackoff
	p.MaxBackoff = cfg.Delivery.MaxBackoff
	return p
}

// deliveryOptions is the workflow retry budget for temporal delivery. Each
// activity makes one HTTP attempt, so it may run up to RequestTimeout.
func deliveryOptions(cfg *config.Config) temporal.DeliveryOptions {
	return temporal.DeliveryOptions{
		MaxAttempts:         int32(cfg.Delivery.MaxAttempts),
		InitialInterval:     cfg.Delivery.InitialBackoff,
		MaximumInterval:     cfg.Delivery.MaxBackoff,
		StartToCloseTimeout: 2 * cfg.Delivery.RequestTimeout,
	}
}

func newHTTPDispatcher(cfg *config.Config, logger *slog.Logger, policy delivery.RetryPolicy) (*delivery.HTTPDispatcher, error) {
	hc := &http.Client{
		Timeout:   cfg.Delivery.RequestTimeout,
		Transport: telemetry.Transport(http.DefaultTransport),
	}
	common := []delivery.Option{
		delivery.WithHTTPClient(hc),
		delivery.WithRetryPolicy(policy),
		delivery.WithLogger(logger),
	}

	backend, err := delivery.NewClient(delivery.TargetBackend, cfg.Backend.BaseURL, cfg.Backend.MissionsPath, common...)
	if err != nil {
		return nil, err
	}
	executor, err := delivery.NewClient(delivery.TargetExecutor, cfg.Executor.BaseURL, cfg.Executor.CompletionPath, common...)
	if err != nil {
		return nil, err
	}
	return delivery.NewHTTPDispatcher(backend, executor)
}

// newDeliveryWorker builds a worker whose activities make a single HTTP
// attempt; Temporal owns the retries.
func newDeliveryWorker(c client.Client, cfg *config.Config, logger *slog.Logger) (*temporal.TemporalWorker, error) {
	d, err := newHTTPDispatcher(cfg, logger, delivery.NoRetry())
	if err != nil {
		return nil, err
	}
	return temporal.NewTemporalWorker(c, temporal.WorkerOptions{
		TaskQueue: cfg.Temporal.TaskQueue,
	}, &temporal.DeliveryActivities{Dispatcher: d})
}

func dialTemporal(cfg *config.Config, logger *slog.Logger) (client.Client, error) {
	return temporal.Dial(temporal.ClientOptions{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	}, logger)
}
