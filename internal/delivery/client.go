// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package delivery posts relay payloads to the AMR backend and the task
// executor.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"amr-relay/internal/telemetry"
)

// maxErrorBody limits how much of an error response is kept.
const maxErrorBody = 512

// Client posts JSON payloads to one downstream endpoint.
type Client struct {
	target     Target
	url        string
	httpClient *http.Client
	policy     RetryPolicy
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger used for retry messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client posting to baseURL+path.
func NewClient(target Target, baseURL, path string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", target)
	}
	full := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if _, err := url.ParseRequestURI(full); err != nil {
		return nil, fmt.Errorf("%s: invalid url %q: %w", target, full, err)
	}

	c := &Client{
		target: target,
		url:    full,
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: telemetry.Transport(nil),
		},
		policy: DefaultRetryPolicy(),
		logger: slog.Default(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Post sends payload as JSON, retrying 5xx/429 responses and transport
// failures that happened before the request was fully written, within the
// retry policy. A failure after the request was written (a response timeout
// or a dropped connection) is not retried: the POST is not idempotent and
// the downstream may already have acted on it. Any other non-2xx status
// fails at once.
func (c *Client) Post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Target: c.target, URL: c.url, Err: fmt.Errorf("encode payload: %w", err)}
	}

	ctx, span := telemetry.StartSpan(ctx, "delivery.post")
	defer span.End()
	telemetry.AddAttributes(ctx, telemetry.AttrDownstream.String(string(c.target)))

	maxAttempts := c.policy.attempts()
	var last *DeliveryError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		last = c.once(ctx, body)
		attrs := append(telemetry.DurationAttrs(time.Since(start)), telemetry.AttrAttempt.Int(attempt))
		if last != nil {
			attrs = append(attrs, telemetry.ErrorAttrs(last)...)
		}
		telemetry.AddEvent(ctx, "delivery.attempt", attrs...)
		if last == nil {
			telemetry.AddAttributes(ctx, telemetry.AttrAttempt.Int(attempt))
			return nil
		}
		last.Attempts = attempt

		if !last.Retryable || attempt == maxAttempts {
			break
		}

		delay := c.policy.Backoff(attempt)
		c.logger.Warn("delivery attempt failed, retrying",
			"target", c.target,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", last)
		if err := c.sleep(ctx, delay); err != nil {
			last.Err = errors.Join(last.Err, err)
			last.Retryable = false
			break
		}
	}

	telemetry.RecordError(ctx, last)
	return last
}

func (c *Client) once(ctx context.Context, body []byte) *DeliveryError {
	var sent atomic.Bool
	traced := httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				sent.Store(true)
			}
		},
	})

	req, err := http.NewRequestWithContext(traced, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Target: c.target, URL: c.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{
			Target:    c.target,
			URL:       c.url,
			Err:       err,
			Sent:      sent.Load(),
			Retryable: ctx.Err() == nil && !sent.Load(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &DeliveryError{
		Target:     c.target,
		URL:        c.url,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
		Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}
