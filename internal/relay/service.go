// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package relay connects the task executor and the AMR backend.
//
// Every operation on a robot runs while holding that robot's tracker lease,
// including the downstream call, so a completion can never overtake the
// enqueue it belongs to. Lease acquisition and the guarded operation each
// have their own timeout.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"amr-relay/internal/delivery"
	"amr-relay/internal/mission"
	"amr-relay/internal/telemetry"
	"amr-relay/internal/testbed"
	"amr-relay/internal/tracker"
)

const (
	// DefaultLockTimeout bounds the wait for a robot's lease.
	DefaultLockTimeout = 2 * time.Second

	// DefaultOperationTimeout bounds the downstream call made under a lease.
	DefaultOperationTimeout = 15 * time.Second
)

// Options configures a Service.
type Options struct {
	LockTimeout      time.Duration
	OperationTimeout time.Duration
	Logger           *slog.Logger

	// Now stamps enqueue times (default: time.Now).
	Now func() time.Time
}

// EnqueueResult describes a mission the backend accepted.
type EnqueueResult struct {
	AMR     testbed.AMR
	Goal    testbed.WorkCell
	TaskID  int64
	Mission mission.MissionRecord
}

// Service runs enqueue and completion against the tracker and a dispatcher.
type Service struct {
	tracker    *tracker.Tracker
	dispatcher delivery.Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	lockTimeout      time.Duration
	operationTimeout time.Duration
}

// NewService creates a relay service.
func NewService(t *tracker.Tracker, d delivery.Dispatcher, opts Options) (*Service, error) {
	if t == nil {
		return nil, errors.New("tracker is required")
	}
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		tracker:          t,
		dispatcher:       d,
		logger:           opts.Logger,
		now:              opts.Now,
		lockTimeout:      opts.LockTimeout,
		operationTimeout: opts.OperationTimeout,
	}, nil
}

// Enqueue translates a StartTask message, creates the mission on the AMR
// backend and binds the task to the robot. The robot is bound only after the
// backend accepted the mission; on any error the tracker is unchanged.
func (s *Service) Enqueue(ctx context.Context, msg mission.TaskMessage) (EnqueueResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "relay.enqueue")
	defer span.End()
	telemetry.AddAttributes(ctx, telemetry.TaskAttrs(msg.TaskID, msg.Name)...)

	logger := s.logger.With("task_id", msg.TaskID, "name", msg.Name)

	a, err := mission.TranslateStartRequest(msg)
	if err != nil {
		logger.Warn("Rejected enqueue request", "error", err)
		telemetry.RecordError(ctx, err)
		return EnqueueResult{}, err
	}
	telemetry.AddAttributes(ctx, telemetry.MissionAttrs(a.AMR.String(), a.Goal.String())...)
	logger = logger.With("amr", a.AMR.String(), "goal", a.Goal.String())

	lease, err := s.acquire(ctx, a.AMR)
	if err != nil {
		logger.Warn("Could not lock amr", "error", err)
		telemetry.RecordError(ctx, err)
		return EnqueueResult{}, err
	}
	defer lease.Release()

	if existing, ok := lease.Active(); ok {
		err := &tracker.ConflictError{AMR: a.AMR, Existing: existing, RequestedTaskID: msg.TaskID}
		logger.Warn("Rejected enqueue request", "error", err)
		telemetry.RecordError(ctx, err)
		return EnqueueResult{}, err
	}

	rec := mission.NewMissionRecord(a, s.now())

	opCtx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	if err := s.dispatcher.CreateMission(opCtx, rec); err != nil {
		logger.Error("Mission creation failed", "error", err)
		telemetry.RecordError(ctx, err)
		return EnqueueResult{}, err
	}

	if err := lease.Bind(msg); err != nil {
		// Unreachable while the lease is held: Active was checked above.
		logger.Error("Bind failed after mission creation", "error", err)
		telemetry.RecordError(ctx, err)
		return EnqueueResult{}, err
	}

	logger.Info(a.AMR.String() + " assigned a mission to go to " + a.Goal.String())
	telemetry.AddEvent(ctx, "mission.bound")

	return EnqueueResult{
		AMR:     a.AMR,
		Goal:    a.Goal,
		TaskID:  msg.TaskID,
		Mission: rec,
	}, nil
}

// Complete forwards the completion of the robot's active task to the
// executor and returns the robot to Idle. If the executor cannot be reached
// the binding is kept so the completion can be sent again.
func (s *Service) Complete(ctx context.Context, amr testbed.AMR) (mission.CompletionNotice, error) {
	ctx, span := telemetry.StartSpan(ctx, "relay.complete")
	defer span.End()
	telemetry.AddAttributes(ctx, telemetry.AttrAMR.String(amr.String()))

	logger := s.logger.With("amr", amr.String())

	lease, err := s.acquire(ctx, amr)
	if err != nil {
		logger.Warn("Could not lock amr", "error", err)
		telemetry.RecordError(ctx, err)
		return mission.CompletionNotice{}, err
	}
	defer lease.Release()

	var active *mission.TaskMessage
	if b, ok := lease.Active(); ok {
		active = &b.Task
	}

	notice, err := mission.TranslateCompletion(amr, active)
	if err != nil {
		logger.Warn("Rejected completion", "error", err)
		telemetry.RecordError(ctx, err)
		return mission.CompletionNotice{}, err
	}
	telemetry.AddAttributes(ctx, telemetry.TaskAttrs(notice.TaskID, notice.Name)...)
	logger = logger.With("task_id", notice.TaskID, "name", notice.Name)

	opCtx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	if err := s.dispatcher.ForwardCompletion(opCtx, notice); err != nil {
		logger.Error("Completion forward failed, keeping binding", "error", err)
		telemetry.RecordError(ctx, err)
		return mission.CompletionNotice{}, err
	}

	if _, err := lease.Unbind(); err != nil {
		logger.Error("Unbind failed after completion forward", "error", err)
		telemetry.RecordError(ctx, err)
		return mission.CompletionNotice{}, err
	}

	logger.Info(amr.String() + " completed its mission")
	telemetry.AddEvent(ctx, "mission.unbound")

	return notice, nil
}

// ActiveMissions returns the current bindings, ordered by robot.
func (s *Service) ActiveMissions() []tracker.Binding {
	return s.tracker.Snapshot()
}

func (s *Service) acquire(ctx context.Context, amr testbed.AMR) (*tracker.Lease, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	return s.tracker.Acquire(lockCtx, amr)
}
