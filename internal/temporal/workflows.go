// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"errors"

	"go.temporal.io/sdk/workflow"

	"amr-relay/internal/mission"
)

// CreateMissionInput is the input of CreateMissionWorkflow.
type CreateMissionInput struct {
	Record   mission.MissionRecord
	Delivery DeliveryOptions
}

// Validate checks that the record can be sent to the backend.
func (in *CreateMissionInput) Validate() error {
	if !in.Record.AMRID.Valid() {
		return errors.New("amr_id is required")
	}
	if !in.Record.Goal.Forwardable() {
		return errors.New("goal is not a backend work cell")
	}
	return nil
}

// ForwardCompletionInput is the input of ForwardCompletionWorkflow.
type ForwardCompletionInput struct {
	Notice   mission.CompletionNotice
	Delivery DeliveryOptions
}

// Validate checks that the notice is an EndTask.
func (in *ForwardCompletionInput) Validate() error {
	if in.Notice.MsgType != mission.MsgTypeEndTask {
		return errors.New("notice msgType must be EndTask")
	}
	return nil
}

// CreateMissionWorkflow delivers one mission record to the AMR backend
// within the retry budget in the input.
func CreateMissionWorkflow(ctx workflow.Context, in CreateMissionInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	logger := workflow.GetLogger(ctx)
	ctx = WithDeliveryOptions(ctx, in.Delivery)

	var a *DeliveryActivities
	if err := workflow.ExecuteActivity(ctx, a.CreateMission, in.Record).Get(ctx, nil); err != nil {
		logger.Warn("Mission creation failed",
			"amr", in.Record.AMRID.String(),
			"goal", in.Record.Goal.String(),
			"error", err)
		return err
	}

	logger.Info("Mission created",
		"amr", in.Record.AMRID.String(),
		"goal", in.Record.Goal.String())
	return nil
}

// ForwardCompletionWorkflow delivers one completion notice to the executor
// within the retry budget in the input.
func ForwardCompletionWorkflow(ctx workflow.Context, in ForwardCompletionInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	logger := workflow.GetLogger(ctx)
	ctx = WithDeliveryOptions(ctx, in.Delivery)

	var a *DeliveryActivities
	if err := workflow.ExecuteActivity(ctx, a.ForwardCompletion, in.Notice).Get(ctx, nil); err != nil {
		logger.Warn("Completion forward failed",
			"taskId", in.Notice.TaskID,
			"error", err)
		return err
	}

	logger.Info("Completion forwarded",
		"taskId", in.Notice.TaskID,
		"name", in.Notice.Name)
	return nil
}
