// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package mission

import (
	"errors"

	"amr-relay/internal/testbed"
)

// ErrNotStartTask is returned when an enqueue request is not a StartTask.
var ErrNotStartTask = errors.New("message is not a StartTask")

// ErrNoKnownRobot is returned when none of a task's resources is a robot.
var ErrNoKnownRobot = errors.New("no known amr in task resources")

// ErrGoalNotForwardable is returned for work cells the backend does not know.
var ErrGoalNotForwardable = errors.New("goal cannot be forwarded to the amr backend")

// ErrNoActiveMission is matched by every NoActiveMissionError.
var ErrNoActiveMission = errors.New("no active mission")

// NoActiveMissionError is returned when a completion arrives for a robot
// that has nothing bound.
type NoActiveMissionError struct {
	AMR testbed.AMR
}

// Error implements the error interface.
func (e *NoActiveMissionError) Error() string {
	return "completion for " + e.AMR.String() + " with no active mission"
}

// Is lets errors.Is match ErrNoActiveMission.
func (e *NoActiveMissionError) Is(target error) bool {
	return target == ErrNoActiveMission
}
