// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"amr-relay/internal/delivery"
	"amr-relay/internal/mission"
)

func newTestDispatcher(t *testing.T, c client.Client) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(c, "amr-relay-delivery", DeliveryOptions{MaxAttempts: 2})
	require.NoError(t, err)
	d.newID = func() string { return "fixed" }
	return d
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, "q", DeliveryOptions{})
	assert.Error(t, err)

	_, err = NewDispatcher(&mocks.Client{}, "", DeliveryOptions{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "task_queue")
}

func TestDispatcher_CreateMission(t *testing.T) {
	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	rec := sampleRecord()

	matchOpts := mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == "create-mission-AMR_2-fixed" &&
			o.TaskQueue == "amr-relay-delivery" &&
			o.WorkflowExecutionTimeout > 0 &&
			o.WorkflowExecutionTimeout <= 5*time.Second
	})
	matchInput := mock.MatchedBy(func(in CreateMissionInput) bool {
		return in.Record == rec && in.Delivery.MaxAttempts == 2
	})
	mockClient.On("ExecuteWorkflow", mock.Anything, matchOpts, mock.Anything, matchInput).
		Return(mockRun, nil)
	mockRun.On("Get", mock.Anything, nil).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := newTestDispatcher(t, mockClient)
	require.NoError(t, d.CreateMission(ctx, rec))

	mockClient.AssertExpectations(t)
	mockRun.AssertExpectations(t)
}

func TestDispatcher_ForwardCompletion_NoDeadline(t *testing.T) {
	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	notice := mission.CompletionNotice{MsgType: mission.MsgTypeEndTask, TaskID: 9, Name: "n", Outcome: mission.OutcomeSuccess}

	matchOpts := mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return strings.HasPrefix(o.ID, "forward-completion-9-") && o.WorkflowExecutionTimeout == 0
	})
	mockClient.On("ExecuteWorkflow", mock.Anything, matchOpts, mock.Anything, mock.Anything).
		Return(mockRun, nil)
	mockRun.On("Get", mock.Anything, nil).Return(nil)

	d := newTestDispatcher(t, mockClient)
	require.NoError(t, d.ForwardCompletion(context.Background(), notice))
	mockClient.AssertExpectations(t)
}

func TestDispatcher_StartFailureIsRetryable(t *testing.T) {
	mockClient := &mocks.Client{}
	mockClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	d := newTestDispatcher(t, mockClient)
	err := d.CreateMission(context.Background(), sampleRecord())

	require.Error(t, err)
	assert.ErrorIs(t, err, delivery.ErrDownstream)
	assert.True(t, delivery.IsRetryable(err))
	assert.Contains(t, err.Error(), "frontend unavailable")
}

func TestDispatcher_WorkflowFailure(t *testing.T) {
	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	mockClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(mockRun, nil)
	mockRun.On("Get", mock.Anything, nil).Return(errors.New("activity error"))

	d := newTestDispatcher(t, mockClient)
	err := d.CreateMission(context.Background(), sampleRecord())

	require.Error(t, err)
	var de *delivery.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, delivery.TargetBackend, de.Target)
	assert.False(t, de.Retryable)
}

func TestDispatcher_TracesWorkflowID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	mockClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(mockRun, nil)
	mockRun.On("Get", mock.Anything, nil).Return(errors.New("activity error"))

	d := newTestDispatcher(t, mockClient)
	require.Error(t, d.CreateMission(context.Background(), sampleRecord()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "temporal.dispatch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "create-mission-AMR_2-fixed", attrs["workflow.id"])
	assert.Equal(t, string(delivery.TargetBackend), attrs["delivery.target"])
	assert.Equal(t, true, attrs["error"])
}

func TestDispatcher_ExpiredDeadline(t *testing.T) {
	mockClient := &mocks.Client{}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	d := newTestDispatcher(t, mockClient)
	err := d.ForwardCompletion(ctx, mission.CompletionNotice{MsgType: mission.MsgTypeEndTask})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	mockClient.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
