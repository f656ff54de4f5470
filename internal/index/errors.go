package index

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyClosed marks a lazily created resource that was closed
	// before or during creation. Callers retry and never surface it.
	ErrAlreadyClosed  = errors.New("index resource already closed")
	ErrInterrupted    = errors.New("index operation interrupted")
	ErrQueueClosed    = errors.New("index queue closed")
	ErrEngineClosed   = errors.New("index engine closed")
	ErrIndexingFailed = errors.New("indexing failed")
)

// CanceledError is reported for batch members that were never applied
// because an earlier member of the same batch failed.
type CanceledError struct {
	Cause error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("canceled after earlier batch failure: %v", e.Cause)
}

func (e *CanceledError) Unwrap() error { return e.Cause }

// AggregateError is returned by an accumulated result when any member failed.
type AggregateError struct {
	Failures  int
	Successes int
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("indexing failed: %d of %d operations failed", e.Failures, e.Failures+e.Successes)
}

func (e *AggregateError) Is(target error) bool {
	return target == ErrIndexingFailed
}

// PanicError carries the value recovered from an operation that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("index operation panicked: %v", e.Value)
}
