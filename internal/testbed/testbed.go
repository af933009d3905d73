// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package testbed defines the fixed vocabulary of the factory testbed: the
// robots in the AMR fleet, the work cells they drive between and the mission
// lifecycle stages understood by the AMR backend.
package testbed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SentinelDockID is sent as a mission's start location. Start tracking is
// not implemented on the backend yet, so the value is never interpreted.
const SentinelDockID = 0

// AMR identifies one autonomous mobile robot in the fleet.
type AMR int

const (
	AMR1 AMR = 1
	AMR2 AMR = 2
)

var amrNames = map[AMR]string{
	AMR1: "AMR_1",
	AMR2: "AMR_2",
}

// AMRs returns every robot deployed on the testbed, ordered by id.
func AMRs() []AMR {
	return []AMR{AMR1, AMR2}
}

// Valid reports whether a is a deployed robot.
func (a AMR) Valid() bool {
	_, ok := amrNames[a]
	return ok
}

func (a AMR) String() string {
	if name, ok := amrNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AMR(%d)", int(a))
}

// MarshalJSON encodes the robot as its backend integer id.
func (a AMR) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(a))), nil
}

// UnmarshalJSON accepts the backend integer id (2), the enum name ("AMR_2")
// or the executor's resource name ("amr2").
func (a *AMR) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*a = AMR(code)
		if !a.Valid() {
			return fmt.Errorf("unknown amr id %d", code)
		}
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("amr must be an integer id or a name: %w", err)
	}
	parsed, ok := ParseAMRName(name)
	if !ok {
		return fmt.Errorf("unknown amr %q", name)
	}
	*a = parsed
	return nil
}

// ParseAMRName resolves an enum name such as "AMR_1", a resource name such
// as "amr1" or a decimal id.
func ParseAMRName(name string) (AMR, bool) {
	name = strings.TrimSpace(name)
	for amr, enumName := range amrNames {
		if strings.EqualFold(name, enumName) {
			return amr, true
		}
	}
	if amr, ok := ParseAMRResource(name); ok {
		return amr, true
	}
	if code, err := strconv.Atoi(name); err == nil && AMR(code).Valid() {
		return AMR(code), true
	}
	return 0, false
}

// WorkCell is a physical location in the factory where a robot can be
// assigned to perform a task. Values are the backend's work cell codes.
type WorkCell int

const (
	Undefined  WorkCell = 0
	RobotArm1  WorkCell = 1
	RobotArm2  WorkCell = 2
	Depot      WorkCell = 4
	RobotArm3  WorkCell = 5
	Inspection WorkCell = 6

	// StayWhereItIs is a relay-side pseudo destination with no backend
	// equivalent.
	StayWhereItIs WorkCell = 100
)

var workCellNames = map[WorkCell]string{
	Undefined:     "UNDEFINED",
	RobotArm1:     "ROBOT_ARM_1",
	RobotArm2:     "ROBOT_ARM_2",
	Depot:         "DEPOT",
	RobotArm3:     "ROBOT_ARM_3",
	Inspection:    "INSPECTION",
	StayWhereItIs: "STAY_WHERE_IT_IS",
}

func (w WorkCell) String() string {
	if name, ok := workCellNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WorkCell(%d)", int(w))
}

// Forwardable reports whether the work cell exists on the AMR backend and
// may be used as a mission goal.
func (w WorkCell) Forwardable() bool {
	_, known := workCellNames[w]
	return known && w != Undefined && w != StayWhereItIs
}

// TaskStatus is the lifecycle stage of a mission as tracked by the backend.
type TaskStatus int

const (
	Backlog   TaskStatus = 1
	Enqueued  TaskStatus = 2
	Running   TaskStatus = 3
	Completed TaskStatus = 4
	Failed    TaskStatus = 5
	Canceled  TaskStatus = 6
)

var taskStatusNames = map[TaskStatus]string{
	Backlog:   "BACKLOG",
	Enqueued:  "ENQUEUED",
	Running:   "RUNNING",
	Completed: "COMPLETED",
	Failed:    "FAILED",
	Canceled:  "CANCELED",
}

func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}
