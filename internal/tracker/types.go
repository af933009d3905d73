// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package tracker records which executor task each robot is currently
// running.
//
// Binding Semantics:
//   - Each robot is either Idle (nothing bound) or Assigned (one task bound).
//   - Bind is only valid from Idle. Binding an Assigned robot returns
//     ConflictError and leaves the existing binding in place.
//   - Unbind is only valid from Assigned. Unbinding an Idle robot returns
//     NoActiveMissionError.
//   - Bindings never expire. They are held in memory only and are lost when
//     the process restarts.
//
// Every state change happens under the robot's lease, so operations on one
// robot are serialized while different robots proceed independently.
package tracker

import (
	"errors"
	"fmt"
	"time"

	"amr-relay/internal/mission"
	"amr-relay/internal/testbed"
)

// Binding is the task currently assigned to a robot.
type Binding struct {
	// AMR is the robot the task is bound to
	AMR testbed.AMR `json:"amr"`

	// Task is the original executor message that created the mission
	Task mission.TaskMessage `json:"task"`

	// BoundAt is when the backend accepted the mission
	BoundAt time.Time `json:"boundAt"`
}

// ErrUnknownRobot is returned for robots the tracker has no slot for.
var ErrUnknownRobot = errors.New("unknown amr")

// ErrRobotBusy is matched by every ConflictError.
var ErrRobotBusy = errors.New("amr already has an active mission")

// ErrLockTimeout is returned when a robot's lease could not be acquired
// before the context ended.
var ErrLockTimeout = errors.New("timed out waiting for amr lease")

// ConflictError is returned when binding a robot that is already Assigned.
type ConflictError struct {
	// AMR is the robot that was requested
	AMR testbed.AMR

	// Existing is the binding that prevented the new one
	Existing Binding

	// RequestedTaskID is the task that was refused
	RequestedTaskID int64
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("mission conflict: %s is already assigned to task %d",
		e.AMR, e.Existing.Task.TaskID)
}

// Is lets errors.Is match ErrRobotBusy.
func (e *ConflictError) Is(target error) bool {
	return target == ErrRobotBusy
}
