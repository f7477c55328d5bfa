package runner

import (
	"fmt"
	"time"
)

// ValidationError reports input rejected before any call to Nomad was
// made (oversized payload, malformed metadata).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// DispatchError is a Nomad-side rejection of the dispatch itself.
// The server's message is surfaced verbatim.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch job: %s", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// SchedulerError is a failed Nomad query during orchestration. These are
// fatal to the run; polling loops re-poll, they never retry a failed call.
type SchedulerError struct {
	Op  string
	Err error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("failed %s: %s", e.Op, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }

// AllocTimeoutError means no usable allocation appeared before the
// deadline.
type AllocTimeoutError struct {
	Timeout time.Duration
}

func (e *AllocTimeoutError) Error() string {
	return "timed out waiting for allocation to be created"
}

// AllocCountError means the evaluation produced a number of allocations
// other than the single one a dispatch is expected to yield.
type AllocCountError struct {
	Count int
}

func (e *AllocCountError) Error() string {
	return fmt.Sprintf("expected a single allocation to appear, but got %d", e.Count)
}

// TaskNotFoundError means a --task value does not name a task of the
// allocation.
type TaskNotFoundError struct {
	Task string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %q is not found", e.Task)
}
