// Package ferrors defines the error kinds used throughout the pipeline core
// (spec §7). Each kind is a distinct type so callers can use errors.As to
// branch on it; retry eligibility is decided by a single predicate,
// Retryable, rather than scattered type switches.
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError signals a structural or semantic misconfiguration: missing
// primary key, unknown write strategy, unreachable mirror target, and
// similar fail-fast checks. Never retried.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// SourceError wraps I/O or driver failures raised by a Home. Retryable by
// default.
type SourceError struct {
	Message string
	Cause   error
}

func NewSourceError(message string, cause error) *SourceError {
	return &SourceError{Message: message, Cause: cause}
}

func (e *SourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("source error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("source error: %s", e.Message)
}

func (e *SourceError) Unwrap() error { return e.Cause }

// SinkError wraps I/O or driver failures raised by a Store. Retryable by
// default. A partial failure within a parallel write fails the whole batch,
// so callers should wrap the combined chunk error in a single SinkError.
type SinkError struct {
	Message string
	Cause   error
}

func NewSinkError(message string, cause error) *SinkError {
	return &SinkError{Message: message, Cause: cause}
}

func (e *SinkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sink error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("sink error: %s", e.Message)
}

func (e *SinkError) Unwrap() error { return e.Cause }

// TimeoutError marks a per-attempt wall-time overrun. Retryable if attempts
// remain.
type TimeoutError struct {
	Operation string
	Elapsed   string
}

func NewTimeoutError(operation, elapsed string) *TimeoutError {
	return &TimeoutError{Operation: operation, Elapsed: elapsed}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded its per-attempt budget after %s", e.Operation, e.Elapsed)
}

// CancellationError marks cooperative cancellation. Never retried.
type CancellationError struct {
	Reason string
}

func NewCancellationError(reason string) *CancellationError {
	return &CancellationError{Reason: reason}
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

// RetriesExhaustedError wraps the last cause after every attempt fails.
type RetriesExhaustedError struct {
	Attempts int
	LastErr  error
}

func NewRetriesExhaustedError(attempts int, lastErr error) *RetriesExhaustedError {
	return &RetriesExhaustedError{Attempts: attempts, LastErr: lastErr}
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.LastErr }

// Cause returns the deepest wrapped error, matching the causal-chain
// semantics spec §7 asks verbose failure reporting to expose.
func Cause(err error) error {
	return errors.Cause(wrapForCause(err))
}

// wrapForCause adapts our Unwrap-based chain into something pkg/errors'
// Cause walker understands, since our kinds implement Unwrap rather than
// pkg/errors' Causer.
func wrapForCause(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// Retryable reports whether err is eligible for the retry wrapper's
// default kind-matching policy: SourceError, SinkError, and TimeoutError
// are retryable; ConfigError, CancellationError, and RetriesExhaustedError
// (even one wrapping a retryable cause) are never retried.
func Retryable(err error) bool {
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return false
	}
	var cancel *CancellationError
	if errors.As(err, &cancel) {
		return false
	}
	var src *SourceError
	if errors.As(err, &src) {
		return true
	}
	var sink *SinkError
	if errors.As(err, &sink) {
		return true
	}
	var to *TimeoutError
	if errors.As(err, &to) {
		return true
	}
	return false
}
