// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package delivery

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often a delivery is attempted.
type RetryPolicy struct {
	// MaxAttempts includes the first try; 1 disables retries
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential delay, before jitter
	MaxBackoff time.Duration
	// Jitter is the upper bound of random delay added to each backoff
	Jitter time.Duration
}

// DefaultRetryPolicy returns three attempts with 200ms doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Jitter:         100 * time.Millisecond,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Backoff returns the delay after the given failed attempt (1-based):
// InitialBackoff doubled per attempt, capped at MaxBackoff, plus jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	d := p.InitialBackoff << uint(attempt-1)
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d <= 0) {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
