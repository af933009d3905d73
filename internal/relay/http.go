// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"amr-relay/internal/delivery"
	"amr-relay/internal/mission"
	"amr-relay/internal/telemetry"
	"amr-relay/internal/testbed"
	"amr-relay/internal/tracker"
)

const maxBodyBytes = 1 << 20

// Error codes returned in errorResponse.Code.
const (
	CodeInvalidJSON            = "invalid_json"
	CodeUnsupportedMessageType = "unsupported_message_type"
	CodeNoKnownRobot           = "no_known_robot"
	CodeUnknownLocation        = "unknown_location"
	CodeGoalNotForwardable     = "goal_not_forwardable"
	CodeUnknownAMR             = "unknown_amr"
	CodeRobotBusy              = "robot_busy"
	CodeNoActiveMission        = "no_active_mission"
	CodeRobotLocked            = "robot_locked"
	CodeDownstreamFailure      = "downstream_failure"
	CodeInternal               = "internal_error"
)

type ack struct {
	Status    string                    `json:"status"`
	RequestID string                    `json:"request_id,omitempty"`
	AMR       string                    `json:"amr"`
	Goal      string                    `json:"goal,omitempty"`
	TaskID    int64                     `json:"taskId"`
	Mission   *mission.MissionRecord    `json:"mission,omitempty"`
	Notice    *mission.CompletionNotice `json:"notice,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

type activeMission struct {
	AMR     string              `json:"amr"`
	Task    mission.TaskMessage `json:"task"`
	BoundAt time.Time           `json:"bound_at"`
}

type completionRequest struct {
	AMR json.RawMessage `json:"amr"`
}

// Handler returns the relay's HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/enqueue_new_mission", s.handleEnqueue)
	r.Post("/forward_mission_completion", s.handleCompletion)
	r.Get("/active_missions", s.handleActiveMissions)
	r.Get("/healthz", handleHealth)

	return telemetry.Handler(r, "amr-relay")
}

// requestID fills in X-Request-Id with a UUID when the caller sent none and
// echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	telemetry.AddAttributes(r.Context(), telemetry.AttrRequestID.String(reqID))

	var msg mission.TaskMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		s.logger.Warn("Malformed enqueue request", "request_id", reqID, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: CodeInvalidJSON, RequestID: reqID})
		return
	}

	res, err := s.Enqueue(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, reqID, err)
		return
	}

	writeJSON(w, http.StatusCreated, ack{
		Status:    "enqueued",
		RequestID: reqID,
		AMR:       res.AMR.String(),
		Goal:      res.Goal.String(),
		TaskID:    res.TaskID,
		Mission:   &res.Mission,
	})
}

func (s *Service) handleCompletion(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	telemetry.AddAttributes(r.Context(), telemetry.AttrRequestID.String(reqID))

	var req completionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Warn("Malformed completion request", "request_id", reqID, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: CodeInvalidJSON, RequestID: reqID})
		return
	}

	var amr testbed.AMR
	if len(req.AMR) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amr is required", Code: CodeUnknownAMR, RequestID: reqID})
		return
	}
	if err := json.Unmarshal(req.AMR, &amr); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: CodeUnknownAMR, RequestID: reqID})
		return
	}

	notice, err := s.Complete(r.Context(), amr)
	if err != nil {
		s.writeError(w, r, reqID, err)
		return
	}

	writeJSON(w, http.StatusOK, ack{
		Status:    "completed",
		RequestID: reqID,
		AMR:       amr.String(),
		TaskID:    notice.TaskID,
		Notice:    &notice,
	})
}

func (s *Service) handleActiveMissions(w http.ResponseWriter, _ *http.Request) {
	bindings := s.ActiveMissions()
	out := make([]activeMission, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, activeMission{AMR: b.AMR.String(), Task: b.Task, BoundAt: b.BoundAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, reqID string, err error) {
	status, code := statusFor(err)
	traceID := telemetry.TraceID(r.Context())
	if status >= http.StatusInternalServerError {
		telemetry.RecordError(r.Context(), err)
		s.logger.Error("Request failed", "request_id", reqID, "trace_id", traceID, "code", code, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code, RequestID: reqID, TraceID: traceID})
}

// statusFor maps relay errors onto an HTTP status and an error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, mission.ErrNotStartTask):
		return http.StatusUnprocessableEntity, CodeUnsupportedMessageType
	case errors.Is(err, mission.ErrNoKnownRobot):
		return http.StatusUnprocessableEntity, CodeNoKnownRobot
	case errors.Is(err, testbed.ErrUnknownLocation):
		return http.StatusUnprocessableEntity, CodeUnknownLocation
	case errors.Is(err, mission.ErrGoalNotForwardable):
		return http.StatusUnprocessableEntity, CodeGoalNotForwardable
	case errors.Is(err, tracker.ErrUnknownRobot):
		return http.StatusBadRequest, CodeUnknownAMR
	case errors.Is(err, tracker.ErrRobotBusy):
		return http.StatusConflict, CodeRobotBusy
	case errors.Is(err, mission.ErrNoActiveMission):
		return http.StatusConflict, CodeNoActiveMission
	case errors.Is(err, tracker.ErrLockTimeout):
		return http.StatusServiceUnavailable, CodeRobotLocked
	case errors.Is(err, delivery.ErrDownstream):
		return http.StatusBadGateway, CodeDownstreamFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
