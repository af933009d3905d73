// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"amr-relay/internal/delivery"
	"amr-relay/internal/mission"
)

// Application error types reported by delivery activities
const (
	// ErrTypeDownstreamRejected marks a downstream 4xx; retrying cannot help
	ErrTypeDownstreamRejected = "DownstreamRejected"

	// ErrTypeDownstreamUnavailable marks 5xx responses and transport errors
	// raised before the request was written
	ErrTypeDownstreamUnavailable = "DownstreamUnavailable"

	// ErrTypeDeliveryUncertain marks a request that was written but got no
	// response; the downstream may have acted on it, so it is not retried
	ErrTypeDeliveryUncertain = "DeliveryUncertain"
)

// DeliveryActivities performs the downstream HTTP calls. The dispatcher
// should make a single attempt per call; Temporal owns the retries.
type DeliveryActivities struct {
	Dispatcher delivery.Dispatcher
}

// CreateMission posts a mission record to the AMR backend.
func (a *DeliveryActivities) CreateMission(ctx context.Context, rec mission.MissionRecord) error {
	activity.GetLogger(ctx).Info("Creating AMR mission",
		"amr", rec.AMRID.String(),
		"goal", rec.Goal.String(),
		"attempt", activity.GetInfo(ctx).Attempt)
	return toApplicationError(a.Dispatcher.CreateMission(ctx, rec))
}

// ForwardCompletion posts a completion notice to the task executor.
func (a *DeliveryActivities) ForwardCompletion(ctx context.Context, notice mission.CompletionNotice) error {
	activity.GetLogger(ctx).Info("Forwarding mission completion",
		"taskId", notice.TaskID,
		"name", notice.Name,
		"attempt", activity.GetInfo(ctx).Attempt)
	return toApplicationError(a.Dispatcher.ForwardCompletion(ctx, notice))
}

func toApplicationError(err error) error {
	if err == nil {
		return nil
	}
	if delivery.IsRetryable(err) {
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeDownstreamUnavailable, err)
	}
	var de *delivery.DeliveryError
	if errors.As(err, &de) && de.Sent && de.StatusCode == 0 {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeDeliveryUncertain, err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeDownstreamRejected, err)
}
