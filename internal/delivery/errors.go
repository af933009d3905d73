// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package delivery

import (
	"errors"
	"fmt"
)

// Target names a downstream service.
type Target string

const (
	TargetBackend  Target = "amr-backend"
	TargetExecutor Target = "executor"
)

// ErrDownstream is matched by every DeliveryError.
var ErrDownstream = errors.New("downstream delivery failed")

// DeliveryError represents a failed call to a downstream service
type DeliveryError struct {
	// Target is the service that was called
	Target Target
	// URL that was posted to
	URL string
	// StatusCode of the last response, zero if none arrived
	StatusCode int
	// Attempts made before giving up
	Attempts int
	// Retryable reports whether another attempt could succeed
	Retryable bool
	// Sent is set when the request was fully written before the failure;
	// with no status code the downstream may have acted on it
	Sent bool
	// Body holds the start of the last error response
	Body string
	// Underlying error
	Err error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery to %s failed", e.Target)

	if e.URL != "" {
		msg += fmt.Sprintf(": url=%s", e.URL)
	}

	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}

	if e.Sent && e.StatusCode == 0 {
		msg += " (request sent, outcome unknown)"
	}

	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	} else if e.Body != "" {
		msg += fmt.Sprintf(": %s", e.Body)
	}

	return msg
}

// Unwrap returns the underlying error
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrDownstream.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDownstream
}

// IsRetryable reports whether err is a DeliveryError worth retrying.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
