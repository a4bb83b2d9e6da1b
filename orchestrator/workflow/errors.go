// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// RegistryError represents an error from registry operations.
type RegistryError struct {
	BackendID string
	Code      string
	Message   string
	Cause     error
}

// Registry error codes.
const (
	// ErrRegistryDuplicate indicates a backend with that id is already registered.
	ErrRegistryDuplicate = "duplicate_backend"

	// ErrRegistryNotFound indicates the backend was not found.
	ErrRegistryNotFound = "backend_not_found"

	// ErrRegistryInvalidDescriptor indicates an invalid workflow descriptor.
	ErrRegistryInvalidDescriptor = "invalid_descriptor"

	// ErrRegistryStorageError indicates a storage operation failed.
	ErrRegistryStorageError = "registry_storage_error"
)

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.BackendID != "" {
		return fmt.Sprintf("registry error for %q: %s", e.BackendID, e.Message)
	}
	return fmt.Sprintf("registry error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// IsDuplicateBackend reports whether err is a duplicate-registration error.
func IsDuplicateBackend(err error) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Code == ErrRegistryDuplicate
}

// CommunicationError represents a transient failure reaching a backend
// through every permitted transport tier.
type CommunicationError struct {
	BackendID string
	// TierErrors maps each attempted tier to its failure reason.
	TierErrors map[TransportTier]string
	Cause      error
}

// Error implements the error interface.
func (e *CommunicationError) Error() string {
	parts := make([]string, 0, len(e.TierErrors))
	for _, tier := range []TransportTier{TierStreaming, TierPolling, TierMock} {
		if msg, ok := e.TierErrors[tier]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", tier, msg))
		}
	}
	return fmt.Sprintf("communication with backend %q failed (%s)", e.BackendID, strings.Join(parts, "; "))
}

// Unwrap returns the underlying error.
func (e *CommunicationError) Unwrap() error {
	return e.Cause
}

// AttemptFailure records why one candidate backend failed during execution.
// It is carried inside ExecutionError for diagnostics so callers never need
// to re-run a failed request to understand it.
type AttemptFailure struct {
	BackendID string        `json:"backend_id"`
	Attempt   int           `json:"attempt"`
	Tier      TransportTier `json:"tier,omitempty"`

	// Skipped is set when no call was attempted (open breaker, offline).
	Skipped bool `json:"skipped,omitempty"`

	// Reason is the failure or skip reason.
	Reason string `json:"reason"`
}

// ExecutionError is the typed error surface of Execute. Component-local
// errors never leave their component; everything callers see is one of
// these codes.
type ExecutionError struct {
	Code    string
	Message string

	// Attempts lists the per-backend failures behind an exhaustion error.
	Attempts []AttemptFailure

	Cause error
}

// Execution error codes.
const (
	// ErrCodeNoCapableBackend indicates the registry holds no backend whose
	// capability set covers the request. Not retried.
	ErrCodeNoCapableBackend = "no_capable_backend"

	// ErrCodeAllBackendsExhausted indicates every ranked candidate failed.
	ErrCodeAllBackendsExhausted = "all_backends_exhausted"

	// ErrCodeDeadlineExceeded indicates the request-level deadline elapsed.
	ErrCodeDeadlineExceeded = "deadline_exceeded"

	// ErrCodeAdmissionTimeout indicates the per-backend admission queue
	// did not grant a slot before the deadline.
	ErrCodeAdmissionTimeout = "admission_timeout"

	// ErrCodeInvalidRequest indicates a malformed request. Caller error.
	ErrCodeInvalidRequest = "invalid_request"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if len(e.Attempts) > 0 {
		reasons := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			reasons = append(reasons, fmt.Sprintf("%s: %s", a.BackendID, a.Reason))
		}
		return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(reasons, "; "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// NewNoCapableBackendError builds the error for a request no registered
// backend can satisfy.
func NewNoCapableBackendError(required []Capability) *ExecutionError {
	caps := make([]string, len(required))
	for i, c := range required {
		caps[i] = string(c)
	}
	return &ExecutionError{
		Code:    ErrCodeNoCapableBackend,
		Message: fmt.Sprintf("no registered backend covers capabilities [%s]", strings.Join(caps, ", ")),
	}
}

// NewAllBackendsExhaustedError builds the exhaustion error carrying every
// attempted backend and its failure reason.
func NewAllBackendsExhaustedError(attempts []AttemptFailure) *ExecutionError {
	return &ExecutionError{
		Code:     ErrCodeAllBackendsExhausted,
		Message:  fmt.Sprintf("all %d candidate backend(s) failed", countDistinctBackends(attempts)),
		Attempts: attempts,
	}
}

// NewDeadlineExceededError builds the request-deadline error.
func NewDeadlineExceededError(attempts []AttemptFailure, cause error) *ExecutionError {
	return &ExecutionError{
		Code:     ErrCodeDeadlineExceeded,
		Message:  "request deadline exceeded before a backend produced a result",
		Attempts: attempts,
		Cause:    cause,
	}
}

// NewAdmissionTimeoutError builds the backpressure error for a backend whose
// admission queue did not grant a slot in time.
func NewAdmissionTimeoutError(backendID string, cause error) *ExecutionError {
	return &ExecutionError{
		Code:    ErrCodeAdmissionTimeout,
		Message: fmt.Sprintf("admission to backend %q timed out", backendID),
		Cause:   cause,
	}
}

// NewInvalidRequestError builds the error for a request rejected before
// any routing happens.
func NewInvalidRequestError(reason string) *ExecutionError {
	return &ExecutionError{
		Code:    ErrCodeInvalidRequest,
		Message: reason,
	}
}

// ErrorCode extracts the execution error code from err, or "" if err is not
// an ExecutionError.
func ErrorCode(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func countDistinctBackends(attempts []AttemptFailure) int {
	seen := make(map[string]bool, len(attempts))
	for _, a := range attempts {
		seen[a.BackendID] = true
	}
	return len(seen)
}
