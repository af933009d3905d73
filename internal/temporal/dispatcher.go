// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"amr-relay/internal/delivery"
	"amr-relay/internal/mission"
	"amr-relay/internal/telemetry"
)

// Dispatcher implements delivery.Dispatcher by running a delivery workflow
// and waiting for its result.
//
// The workflow's execution timeout is set from the caller's deadline, which
// bounds how long the relay waits for a result. It does not cancel an
// activity attempt a worker has already started: that attempt runs until its
// own StartToCloseTimeout and may still reach the downstream after the relay
// has answered with an error.
type Dispatcher struct {
	client    client.Client
	taskQueue string
	opts      DeliveryOptions
	newID     func() string
}

// NewDispatcher creates a dispatcher that starts workflows on taskQueue.
func NewDispatcher(c client.Client, taskQueue string, opts DeliveryOptions) (*Dispatcher, error) {
	if c == nil {
		return nil, errors.New("temporal client is required")
	}
	if taskQueue == "" {
		return nil, errors.New("task_queue is required")
	}
	return &Dispatcher{
		client:    c,
		taskQueue: taskQueue,
		opts:      opts.withDefaults(),
		newID:     uuid.NewString,
	}, nil
}

// CreateMission runs CreateMissionWorkflow for rec.
func (d *Dispatcher) CreateMission(ctx context.Context, rec mission.MissionRecord) error {
	id := fmt.Sprintf("create-mission-%s-%s", rec.AMRID, d.newID())
	in := CreateMissionInput{Record: rec, Delivery: d.opts}
	return d.run(ctx, delivery.TargetBackend, id, CreateMissionWorkflow, in)
}

// ForwardCompletion runs ForwardCompletionWorkflow for notice.
func (d *Dispatcher) ForwardCompletion(ctx context.Context, notice mission.CompletionNotice) error {
	id := fmt.Sprintf("forward-completion-%d-%s", notice.TaskID, d.newID())
	in := ForwardCompletionInput{Notice: notice, Delivery: d.opts}
	return d.run(ctx, delivery.TargetExecutor, id, ForwardCompletionWorkflow, in)
}

func (d *Dispatcher) run(ctx context.Context, target delivery.Target, id string, wf interface{}, in interface{}) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "temporal.dispatch")
	defer span.End()
	telemetry.AddAttributes(ctx,
		telemetry.AttrWorkflowID.String(id),
		telemetry.AttrDownstream.String(string(target)))
	defer func() { telemetry.RecordError(ctx, err) }()

	opts := client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: d.taskQueue,
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &delivery.DeliveryError{Target: target, Err: context.DeadlineExceeded}
		}
		opts.WorkflowExecutionTimeout = remaining
	}

	run, err := d.client.ExecuteWorkflow(ctx, opts, wf, in)
	if err != nil {
		return &delivery.DeliveryError{
			Target:    target,
			Err:       fmt.Errorf("start workflow %s: %w", id, err),
			Retryable: true,
		}
	}

	if err := run.Get(ctx, nil); err != nil {
		return &delivery.DeliveryError{
			Target: target,
			Err:    fmt.Errorf("workflow %s: %w", id, err),
		}
	}
	return nil
}

var _ delivery.Dispatcher = (*Dispatcher)(nil)
