// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package mission translates between the task executor's task messages and
// the AMR backend's mission records.
package mission

import (
	"time"

	"amr-relay/internal/testbed"
)

// Executor message types.
const (
	MsgTypeStartTask = "StartTask"
	MsgTypeEndTask   = "EndTask"
)

// OutcomeSuccess is the only outcome reported back to the executor.
const OutcomeSuccess = "success"

// Enqueue time layouts: local wall time with no zone, and six fractional
// digits unless the time falls on a whole second.
const (
	EnqueueTimeLayout      = "2006-01-02T15:04:05.000000"
	EnqueueTimeLayoutWhole = "2006-01-02T15:04:05"
)

// FormatEnqueueTime formats t the way the backend expects a mission's
// enqueue_time.
func FormatEnqueueTime(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format(EnqueueTimeLayoutWhole)
	}
	return t.Format(EnqueueTimeLayout)
}

// TaskMessage is a message from the task executor.
//
// Sample:
//
//	{
//	    "msgType": "StartTask",
//	    "taskId": 1,
//	    "name": "moveKitToArm",
//	    "resources": ["amr2"],
//	    "structureType": "Heart",
//	    "location": "Robot-Arm-2"
//	}
type TaskMessage struct {
	MsgType       string   `json:"msgType"`
	TaskID        int64    `json:"taskId"`
	Name          string   `json:"name"`
	Resources     []string `json:"resources"`
	StructureType string   `json:"structureType,omitempty"`
	Location      string   `json:"location"`
}

// Assignment is the result of translating a StartTask message: which robot
// goes where.
type Assignment struct {
	AMR  testbed.AMR
	Goal testbed.WorkCell
}

// MissionRecord is the mission creation request sent to the AMR backend.
type MissionRecord struct {
	Status      testbed.TaskStatus `json:"status"`
	Start       int                `json:"start"`
	Goal        testbed.WorkCell   `json:"goal"`
	EnqueueTime string             `json:"enqueue_time"`
	AMRID       testbed.AMR        `json:"amr_id"`

	// Reserved for task chain and workflow linkage on the backend. Always
	// null for now.
	MaterialTransportTaskChainID *int64  `json:"material_transport_task_chain_id"`
	AssemblyWorkflowID           *int64  `json:"assembly_workflow_id"`
	StartTime                    *string `json:"start_time"`
	EndTime                      *string `json:"end_time"`
}

// CompletionNotice tells the executor that a task has finished.
//
// Sample:
//
//	{"msgType": "EndTask", "taskId": 1, "name": "moveKitToArm", "outcome": "success"}
type CompletionNotice struct {
	MsgType string `json:"msgType"`
	TaskID  int64  `json:"taskId"`
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
}

// NewMissionRecord builds the backend mission for an assignment. New
// missions are always ENQUEUED and start at the sentinel dock.
func NewMissionRecord(a Assignment, now time.Time) MissionRecord {
	return MissionRecord{
		Status:      testbed.Enqueued,
		Start:       testbed.SentinelDockID,
		Goal:        a.Goal,
		EnqueueTime: FormatEnqueueTime(now),
		AMRID:       a.AMR,
	}
}
