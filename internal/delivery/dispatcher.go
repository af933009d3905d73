// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package delivery

import (
	"context"
	"fmt"

	"amr-relay/internal/mission"
)

// Dispatcher delivers relay output downstream. A nil error means the
// downstream service accepted the payload.
type Dispatcher interface {
	// CreateMission asks the AMR backend to create a mission
	CreateMission(ctx context.Context, rec mission.MissionRecord) error

	// ForwardCompletion tells the executor a task finished
	ForwardCompletion(ctx context.Context, notice mission.CompletionNotice) error
}

// HTTPDispatcher posts directly to both services from the calling goroutine.
type HTTPDispatcher struct {
	Backend  *Client
	Executor *Client
}

// NewHTTPDispatcher pairs a backend and an executor client.
func NewHTTPDispatcher(backend, executor *Client) (*HTTPDispatcher, error) {
	if backend == nil || executor == nil {
		return nil, fmt.Errorf("backend and executor clients are required")
	}
	return &HTTPDispatcher{Backend: backend, Executor: executor}, nil
}

// CreateMission posts the mission record to the AMR backend.
func (d *HTTPDispatcher) CreateMission(ctx context.Context, rec mission.MissionRecord) error {
	return d.Backend.Post(ctx, rec)
}

// ForwardCompletion posts the completion notice to the executor.
func (d *HTTPDispatcher) ForwardCompletion(ctx context.Context, notice mission.CompletionNotice) error {
	return d.Executor.Post(ctx, notice)
}

var _ Dispatcher = (*HTTPDispatcher)(nil)
