// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"amr-relay/internal/delivery"
	"amr-relay/internal/mission"
	"amr-relay/internal/testbed"
)

// scriptedDispatcher returns queued errors in order, then nil.
type scriptedDispatcher struct {
	mu       sync.Mutex
	errs     []error
	missions []mission.MissionRecord
	notices  []mission.CompletionNotice
}

func (d *scriptedDispatcher) next() error {
	if len(d.errs) == 0 {
		return nil
	}
	err := d.errs[0]
	d.errs = d.errs[1:]
	return err
}

func (d *scriptedDispatcher) CreateMission(_ context.Context, rec mission.MissionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missions = append(d.missions, rec)
	return d.next()
}

func (d *scriptedDispatcher) ForwardCompletion(_ context.Context, notice mission.CompletionNotice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, notice)
	return d.next()
}

func unavailable() error {
	return &delivery.DeliveryError{Target: delivery.TargetBackend, StatusCode: http.StatusServiceUnavailable, Retryable: true}
}

func unanswered() error {
	return &delivery.DeliveryError{Target: delivery.TargetBackend, Err: context.DeadlineExceeded, Sent: true}
}

func rejected() error {
	return &delivery.DeliveryError{Target: delivery.TargetBackend, StatusCode: http.StatusBadRequest, Body: "invalid goal"}
}

func sampleRecord() mission.MissionRecord {
	return mission.NewMissionRecord(mission.Assignment{AMR: testbed.AMR2, Goal: testbed.RobotArm2}, time.Now())
}

func newEnv(t *testing.T, d delivery.Dispatcher) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	s := &testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CreateMissionWorkflow)
	env.RegisterWorkflow(ForwardCompletionWorkflow)
	env.RegisterActivity(&DeliveryActivities{Dispatcher: d})
	return env
}

func TestCreateMissionWorkflow_Success(t *testing.T) {
	d := &scriptedDispatcher{}
	env := newEnv(t, d)

	env.ExecuteWorkflow(CreateMissionWorkflow, CreateMissionInput{Record: sampleRecord()})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Len(t, d.missions, 1)
	assert.Equal(t, testbed.AMR2, d.missions[0].AMRID)
	assert.Equal(t, testbed.RobotArm2, d.missions[0].Goal)
	assert.Equal(t, testbed.Enqueued, d.missions[0].Status)
}

func TestCreateMissionWorkflow_RetriesUnavailableBackend(t *testing.T) {
	d := &scriptedDispatcher{errs: []error{unavailable(), unavailable()}}
	env := newEnv(t, d)

	env.ExecuteWorkflow(CreateMissionWorkflow, CreateMissionInput{
		Record:   sampleRecord(),
		Delivery: DeliveryOptions{MaxAttempts: 3},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Len(t, d.missions, 3)
}

func TestCreateMissionWorkflow_ExhaustsRetryBudget(t *testing.T) {
	d := &scriptedDispatcher{errs: []error{unavailable(), unavailable(), unavailable()}}
	env := newEnv(t, d)

	env.ExecuteWorkflow(CreateMissionWorkflow, CreateMissionInput{
		Record:   sampleRecord(),
		Delivery: DeliveryOptions{MaxAttempts: 2},
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Len(t, d.missions, 2)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeDownstreamUnavailable, appErr.Type())
}

func TestCreateMissionWorkflow_RejectionIsNotRetried(t *testing.T) {
	d := &scriptedDispatcher{errs: []error{rejected()}}
	env := newEnv(t, d)

	env.ExecuteWorkflow(CreateMissionWorkflow, CreateMissionInput{
		Record:   sampleRecord(),
		Delivery: DeliveryOptions{MaxAttempts: 5},
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Len(t, d.missions, 1)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeDownstreamRejected, appErr.Type())
	assert.True(t, appErr.NonRetryable())
}

func TestCreateMissionWorkflow_UnansweredRequestIsNotRetried(t *testing.T) {
	d := &scriptedDispatcher{errs: []error{unanswered()}}
	env := newEnv(t, d)

	env.ExecuteWorkflow(CreateMissionWorkflow, CreateMissionInput{
		Record:   sampleRecord(),
		Delivery: DeliveryOptions{MaxAttempts: 5},
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Len(t, d.missions, 1, "a written mission must not be posted twice")

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeDeliveryUncertain, appErr.Type())
	assert.True(t, appErr.NonRetryable())
}

func TestCreateMissionWorkflow_InputValidation(t *testing.T) {
	d := &scriptedDispatcher{}
	env := newEnv(t, d)

	rec := sampleRecord()
	rec.Goal = testbed.StayWhereItIs
	env.ExecuteWorkflow(CreateMissionWorkflow, CreateMissionInput{Record: rec})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Empty(t, d.missions, "stay-where-it-is is never forwarded")
}

func TestForwardCompletionWorkflow(t *testing.T) {
	d := &scriptedDispatcher{errs: []error{unavailable()}}
	env := newEnv(t, d)

	notice := mission.CompletionNotice{
		MsgType: mission.MsgTypeEndTask,
		TaskID:  1,
		Name:    "moveKitToArm",
		Outcome: mission.OutcomeSuccess,
	}
	env.ExecuteWorkflow(ForwardCompletionWorkflow, ForwardCompletionInput{Notice: notice})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Len(t, d.notices, 2)
	assert.Equal(t, notice, d.notices[1])
}

func TestForwardCompletionInput_Validate(t *testing.T) {
	in := ForwardCompletionInput{Notice: mission.CompletionNotice{MsgType: "StartTask"}}
	err := in.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "EndTask")
}

func TestGetDeliveryActivityOptions(t *testing.T) {
	opts := GetDeliveryActivityOptions(DeliveryOptions{})
	assert.Equal(t, DefaultStartToCloseTimeout, opts.StartToCloseTimeout)
	require.NotNil(t, opts.RetryPolicy)
	assert.Equal(t, int32(DefaultMaxAttempts), opts.RetryPolicy.MaximumAttempts)
	assert.Equal(t, DefaultInitialInterval, opts.RetryPolicy.InitialInterval)
	assert.Equal(t, []string{ErrTypeDownstreamRejected, ErrTypeDeliveryUncertain}, opts.RetryPolicy.NonRetryableErrorTypes)

	opts = GetDeliveryActivityOptions(DeliveryOptions{MaxAttempts: 7, StartToCloseTimeout: time.Second})
	assert.Equal(t, int32(7), opts.RetryPolicy.MaximumAttempts)
	assert.Equal(t, time.Second, opts.StartToCloseTimeout)
}

func TestToApplicationError(t *testing.T) {
	assert.NoError(t, toApplicationError(nil))

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(toApplicationError(unavailable()), &appErr))
	assert.False(t, appErr.NonRetryable())

	assert.Equal(t, ErrTypeDownstreamUnavailable, appErr.Type())

	require.True(t, errors.As(toApplicationError(rejected()), &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, ErrTypeDownstreamRejected, appErr.Type())
	assert.ErrorIs(t, appErr, delivery.ErrDownstream)

	require.True(t, errors.As(toApplicationError(unanswered()), &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, ErrTypeDeliveryUncertain, appErr.Type())
	assert.ErrorIs(t, appErr, context.DeadlineExceeded)
}
