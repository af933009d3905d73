// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Shared activity timeout constants
const (
	// DefaultStartToCloseTimeout bounds a single downstream HTTP attempt
	DefaultStartToCloseTimeout = 10 * time.Second

	// DefaultMaxAttempts is the retry count for delivery activities
	DefaultMaxAttempts = 3

	// DefaultInitialInterval is the delay before the first retry
	DefaultInitialInterval = 200 * time.Millisecond

	// DefaultMaximumInterval caps the exponential retry delay
	DefaultMaximumInterval = 2 * time.Second
)

// DeliveryOptions is the retry budget carried in workflow input so the
// relay's configuration reaches the worker.
type DeliveryOptions struct {
	MaxAttempts         int32
	InitialInterval     time.Duration
	MaximumInterval     time.Duration
	StartToCloseTimeout time.Duration
}

// DefaultDeliveryOptions returns three attempts with doubling backoff.
func DefaultDeliveryOptions() DeliveryOptions {
	return DeliveryOptions{
		MaxAttempts:         DefaultMaxAttempts,
		InitialInterval:     DefaultInitialInterval,
		MaximumInterval:     DefaultMaximumInterval,
		StartToCloseTimeout: DefaultStartToCloseTimeout,
	}
}

func (o DeliveryOptions) withDefaults() DeliveryOptions {
	def := DefaultDeliveryOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = def.InitialInterval
	}
	if o.MaximumInterval <= 0 {
		o.MaximumInterval = def.MaximumInterval
	}
	if o.StartToCloseTimeout <= 0 {
		o.StartToCloseTimeout = def.StartToCloseTimeout
	}
	return o
}

// GetDeliveryActivityOptions returns activity options for downstream
// deliveries. Rejections by the downstream service are never retried.
func GetDeliveryActivityOptions(opts DeliveryOptions) workflow.ActivityOptions {
	opts = opts.withDefaults()
	return workflow.ActivityOptions{
		StartToCloseTimeout: opts.StartToCloseTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        opts.InitialInterval,
			BackoffCoefficient:     2.0,
			MaximumInterval:        opts.MaximumInterval,
			MaximumAttempts:        opts.MaxAttempts,
			NonRetryableErrorTypes: []string{ErrTypeDownstreamRejected, ErrTypeDeliveryUncertain},
		},
	}
}

// WithDeliveryOptions applies delivery activity options to the workflow context.
func WithDeliveryOptions(ctx workflow.Context, opts DeliveryOptions) workflow.Context {
	return workflow.WithActivityOptions(ctx, GetDeliveryActivityOptions(opts))
}
