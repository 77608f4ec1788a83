// Package errors provides error types and utilities for the dispatch pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions
var (
	ErrNotConnected     = errors.New("not connected")
	ErrQueueClosed      = errors.New("queue is closed")
	ErrQueueFull        = errors.New("queue is full")
	ErrJobNotFound      = errors.New("job not found")
	ErrFunctionNotFound = errors.New("function not found")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrShutdown         = errors.New("shutting down")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrEmptyQueueName   = errors.New("queue name cannot be empty")
	ErrNilProcessor     = errors.New("processor cannot be nil")
	ErrRateLimited      = errors.New("domain execution budget exhausted")
)

// QueueUnavailableError signals that the queue's backing store cannot be
// reached. Producers treat this as retryable and must not drop the trigger.
type QueueUnavailableError struct {
	Op    string // operation being performed
	Queue string // queue name (if applicable)
	Err   error  // underlying error
}

func (e *QueueUnavailableError) Error() string {
	if e.Queue != "" {
		return fmt.Sprintf("queue %s unavailable during %s: %v", e.Queue, e.Op, e.Err)
	}
	return fmt.Sprintf("queue unavailable during %s: %v", e.Op, e.Err)
}

func (e *QueueUnavailableError) Unwrap() error {
	return e.Err
}

// TenantUnavailableError signals that a domain is disabled or unknown at
// credential-issuance time. The job must not proceed to execution; it is
// retried a bounded number of times and then dead-lettered.
type TenantUnavailableError struct {
	DomainID string
	Err      error
}

func (e *TenantUnavailableError) Error() string {
	return fmt.Sprintf("tenant %s unavailable: %v", e.DomainID, e.Err)
}

func (e *TenantUnavailableError) Unwrap() error {
	return e.Err
}

// FunctionResolutionError signals that a function body could not be loaded or
// compiled. Retrying will not fix a broken function, so this is permanent.
type FunctionResolutionError struct {
	FunctionID string
	Err        error
}

func (e *FunctionResolutionError) Error() string {
	return fmt.Sprintf("function %s resolution: %v", e.FunctionID, e.Err)
}

func (e *FunctionResolutionError) Unwrap() error {
	return e.Err
}

// Permanent marks resolution failures as non-retryable.
func (e *FunctionResolutionError) Permanent() bool {
	return true
}

// FunctionRuntimeError signals that a function threw or rejected during
// execution. Eligible for retry under the worker's backoff policy.
type FunctionRuntimeError struct {
	FunctionID string
	Err        error
}

func (e *FunctionRuntimeError) Error() string {
	return fmt.Sprintf("function %s runtime: %v", e.FunctionID, e.Err)
}

func (e *FunctionRuntimeError) Unwrap() error {
	return e.Err
}

// FunctionTimeoutError signals that a function exceeded its execution budget.
// Eligible for retry like a runtime error.
type FunctionTimeoutError struct {
	FunctionID string
	Budget     time.Duration
}

func (e *FunctionTimeoutError) Error() string {
	return fmt.Sprintf("function %s timed out after %s", e.FunctionID, e.Budget)
}

func (e *FunctionTimeoutError) Timeout() bool {
	return true
}

// Helper functions for creating errors

// NewQueueUnavailable creates a new queue unavailability error
func NewQueueUnavailable(op, queue string, err error) error {
	return &QueueUnavailableError{Op: op, Queue: queue, Err: err}
}

// NewTenantUnavailable creates a new tenant unavailability error
func NewTenantUnavailable(domainID string, err error) error {
	return &TenantUnavailableError{DomainID: domainID, Err: err}
}

// NewFunctionResolution creates a new function resolution error
func NewFunctionResolution(functionID string, err error) error {
	return &FunctionResolutionError{FunctionID: functionID, Err: err}
}

// NewFunctionRuntime creates a new function runtime error
func NewFunctionRuntime(functionID string, err error) error {
	return &FunctionRuntimeError{FunctionID: functionID, Err: err}
}

// NewFunctionTimeout creates a new function timeout error
func NewFunctionTimeout(functionID string, timeout time.Duration) error {
	return &FunctionTimeoutError{FunctionID: functionID, Budget: timeout}
}

// permanentError marks an arbitrary error as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should bypass the retry policy and go
// straight to the dead letter.
func IsPermanent(err error) bool {
	for err != nil {
		if p, ok := err.(interface{ Permanent() bool }); ok && p.Permanent() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsTenantUnavailable reports whether err stems from a disabled or unknown domain.
func IsTenantUnavailable(err error) bool {
	var te *TenantUnavailableError
	return errors.As(err, &te)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	if t, ok := err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	var fe *FunctionTimeoutError
	return errors.As(err, &fe)
}
