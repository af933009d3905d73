// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

// ClientOptions locates the Temporal frontend.
type ClientOptions struct {
	// HostPort is the frontend address (default: localhost:7233).
	HostPort string
	// Namespace is the Temporal namespace (default: "default").
	Namespace string
}

// Dial connects to Temporal, logging through logger.
func Dial(opts ClientOptions, logger *slog.Logger) (client.Client, error) {
	if opts.HostPort == "" {
		opts.HostPort = client.DefaultHostPort
	}
	if opts.Namespace == "" {
		opts.Namespace = client.DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}

	c, err := client.Dial(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return c, nil
}

// WorkerOptions contains configuration for TemporalWorker.
type WorkerOptions struct {
	// TaskQueue is the task queue name for this worker.
	TaskQueue string
	// MaxConcurrent is max concurrent activity executions (default: 10).
	MaxConcurrent int
	// StopTimeout is how long Stop waits for running activities (default: 10s).
	StopTimeout time.Duration
}

// TemporalWorker manages the delivery worker lifecycle.
type TemporalWorker struct {
	worker  worker.Worker
	opts    WorkerOptions
	started bool
	mu      sync.Mutex
}

// NewTemporalWorker creates a worker on c with the delivery workflows and
// activities registered.
func NewTemporalWorker(c client.Client, opts WorkerOptions, activities *DeliveryActivities) (*TemporalWorker, error) {
	if c == nil {
		return nil, errors.New("temporal client is required")
	}
	if opts.TaskQueue == "" {
		return nil, errors.New("task_queue is required")
	}
	if activities == nil || activities.Dispatcher == nil {
		return nil, errors.New("delivery activities need a dispatcher")
	}

	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}

	w := worker.New(c, opts.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     opts.MaxConcurrent,
		MaxConcurrentWorkflowTaskExecutionSize: opts.MaxConcurrent,
		WorkerStopTimeout:                      opts.StopTimeout,
	})
	RegisterDelivery(w, activities)

	return &TemporalWorker{
		worker: w,
		opts:   opts,
	}, nil
}

// RegisterDelivery registers the delivery workflows and activities on r.
func RegisterDelivery(r worker.Registry, activities *DeliveryActivities) {
	r.RegisterWorkflow(CreateMissionWorkflow)
	r.RegisterWorkflow(ForwardCompletionWorkflow)
	r.RegisterActivity(activities)
}

// Start begins the worker's execution loop.
// Idempotent: calling Start multiple times is safe.
func (w *TemporalWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	w.started = true
	return nil
}

// Stop gracefully shuts down the worker.
// Idempotent: calling Stop multiple times is safe.
func (w *TemporalWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}

	w.worker.Stop()
	w.started = false

	return nil
}

// Run starts the worker and blocks until ctx is cancelled, then stops it.
func (w *TemporalWorker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop(context.Background())
}

// TaskQueue returns the queue the worker polls.
func (w *TemporalWorker) TaskQueue() string {
	return w.opts.TaskQueue
}
