// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package mission

import (
	"fmt"

	"amr-relay/internal/testbed"
)

// TranslateStartRequest maps an executor StartTask message onto a robot and
// a goal work cell.
//
// ErrNotStartTask and ErrNoKnownRobot mean the message is not for the AMR
// fleet. An unrecognized location is a hard failure wrapping
// *testbed.UnknownLocationError. No error path has side effects.
func TranslateStartRequest(msg TaskMessage) (Assignment, error) {
	if msg.MsgType != MsgTypeStartTask {
		return Assignment{}, fmt.Errorf("%w: got %q", ErrNotStartTask, msg.MsgType)
	}

	amr, ok := testbed.MatchAMRResource(msg.Resources)
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %v", ErrNoKnownRobot, msg.Resources)
	}

	goal, err := testbed.ParseLocation(msg.Location)
	if err != nil {
		return Assignment{}, fmt.Errorf("task %d: %w", msg.TaskID, err)
	}
	if !goal.Forwardable() {
		return Assignment{}, fmt.Errorf("%w: %s", ErrGoalNotForwardable, goal)
	}

	return Assignment{AMR: amr, Goal: goal}, nil
}

// TranslateCompletion builds the EndTask notice for the task bound to amr.
// A nil active message returns *NoActiveMissionError.
func TranslateCompletion(amr testbed.AMR, active *TaskMessage) (CompletionNotice, error) {
	if active == nil {
		return CompletionNotice{}, &NoActiveMissionError{AMR: amr}
	}
	return CompletionNotice{
		MsgType: MsgTypeEndTask,
		TaskID:  active.TaskID,
		Name:    active.Name,
		Outcome: OutcomeSuccess,
	}, nil
}
