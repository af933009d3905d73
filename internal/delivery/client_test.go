// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"amr-relay/internal/logging"
	"amr-relay/internal/mission"
	"amr-relay/internal/testbed"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newTestClient(t *testing.T, target Target, baseURL string, attempts int) *Client {
	t.Helper()
	c, err := NewClient(target, baseURL, "/amrmissions/",
		WithRetryPolicy(fastPolicy(attempts)),
		WithLogger(logging.Discard()))
	require.NoError(t, err)
	return c
}

func TestNewClient_URL(t *testing.T) {
	c, err := NewClient(TargetBackend, "http://192.168.0.46:8000/", "amrmissions/")
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.0.46:8000/amrmissions/", c.URL())

	_, err = NewClient(TargetExecutor, "", "/amrmissions/")
	assert.Error(t, err)
}

func TestPost_Success(t *testing.T) {
	var got mission.MissionRecord
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/amrmissions/", r.URL.Path)
		contentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, TargetBackend, srv.URL, 3)
	rec := mission.NewMissionRecord(mission.Assignment{AMR: testbed.AMR2, Goal: testbed.RobotArm2}, time.Now())

	require.NoError(t, c.Post(context.Background(), rec))
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, testbed.AMR2, got.AMRID)
	assert.Equal(t, testbed.Enqueued, got.Status)
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, TargetBackend, srv.URL, 3)
	require.NoError(t, c.Post(context.Background(), map[string]int{"goal": 2}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPost_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "database locked", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, TargetBackend, srv.URL, 2)
	err := c.Post(context.Background(), map[string]int{"goal": 2})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, err, ErrDownstream)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusInternalServerError, de.StatusCode)
	assert.Equal(t, 2, de.Attempts)
	assert.Equal(t, "database locked", de.Body)
	assert.True(t, de.Retryable)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestPost_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, `{"goal":["invalid choice"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, TargetExecutor, srv.URL, 5)
	err := c.Post(context.Background(), map[string]string{"msgType": "EndTask"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, IsRetryable(err))

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TargetExecutor, de.Target)
	assert.Equal(t, 1, de.Attempts)
}

func TestPost_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	c := newTestClient(t, TargetBackend, baseURL, 3)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	err := c.Post(context.Background(), map[string]int{"goal": 2})
	require.Error(t, err)
	assert.Len(t, slept, 2, "sleeps between three attempts")

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Zero(t, de.StatusCode)
	assert.Equal(t, 3, de.Attempts)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestPost_UnansweredRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-time.After(150 * time.Millisecond):
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(TargetBackend, srv.URL, "/amrmissions/",
		WithRetryPolicy(fastPolicy(3)),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		WithLogger(logging.Discard()))
	require.NoError(t, err)

	err = c.Post(context.Background(), map[string]int{"goal": 2})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "the mission must be posted once")
	assert.False(t, IsRetryable(err))

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.Sent)
	assert.Zero(t, de.StatusCode)
	assert.Equal(t, 1, de.Attempts)
	assert.Contains(t, err.Error(), "outcome unknown")
}

func TestPost_RecordsAttemptEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, TargetBackend, srv.URL, 3)
	require.NoError(t, c.Post(context.Background(), map[string]int{"goal": 2}))

	var post sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "delivery.post" {
			post = s
		}
	}
	require.NotNil(t, post)

	var attempts []map[string]any
	for _, ev := range post.Events() {
		if ev.Name != "delivery.attempt" {
			continue
		}
		attrs := map[string]any{}
		for _, kv := range ev.Attributes {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		attempts = append(attempts, attrs)
	}
	require.Len(t, attempts, 2)
	assert.Equal(t, int64(1), attempts[0]["delivery.attempt"])
	assert.Equal(t, true, attempts[0]["error"])
	assert.Contains(t, attempts[0], "duration_ms")
	assert.Equal(t, int64(2), attempts[1]["delivery.attempt"])
	assert.NotContains(t, attempts[1], "error")
}

func TestPost_StopsWhenContextEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, TargetBackend, srv.URL, 10)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := c.Post(ctx, map[string]int{"goal": 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestPost_HungDownstreamIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(TargetBackend, srv.URL, "/amrmissions/",
		WithRetryPolicy(NoRetry()),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		WithLogger(logging.Discard()))
	require.NoError(t, err)

	start := time.Now()
	err = c.Post(context.Background(), map[string]int{"goal": 2})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 350*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 350*time.Millisecond, p.Backoff(40))

	p.Jitter = 50 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}

	assert.Equal(t, 1, RetryPolicy{}.attempts())
	assert.Equal(t, 1, NoRetry().attempts())
	assert.Equal(t, 3, DefaultRetryPolicy().attempts())
}

func TestHTTPDispatcher(t *testing.T) {
	var backendHits, executorHits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendHits.Add(1)
	}))
	defer backend.Close()
	executor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var notice mission.CompletionNotice
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&notice))
		assert.Equal(t, mission.MsgTypeEndTask, notice.MsgType)
		executorHits.Add(1)
	}))
	defer executor.Close()

	d, err := NewHTTPDispatcher(
		newTestClient(t, TargetBackend, backend.URL, 1),
		newTestClient(t, TargetExecutor, executor.URL, 1))
	require.NoError(t, err)

	require.NoError(t, d.CreateMission(context.Background(), mission.MissionRecord{}))
	require.NoError(t, d.ForwardCompletion(context.Background(), mission.CompletionNotice{MsgType: mission.MsgTypeEndTask}))
	assert.Equal(t, int32(1), backendHits.Load())
	assert.Equal(t, int32(1), executorHits.Load())

	_, err = NewHTTPDispatcher(nil, nil)
	assert.Error(t, err)
}
