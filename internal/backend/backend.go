// Package backend defines the execution-tier contract for vanity searches
// and its four implementations: local worker goroutines, a Redis-backed CPU
// batch queue, and the GCP/AWS GPU batch services.
//
// Every tier satisfies the same submit/poll/cancel/fetch contract, so the
// coordinator is written once and a caller observes the same behavior
// regardless of where the search runs.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sol_vanity/internal/keygen"
	"sol_vanity/internal/pattern"

	"github.com/google/uuid"
)

// Tier names a compute context a search can run in. The set is closed;
// adding a tier means adding a Backend implementation, not touching the
// coordinator.
type Tier string

const (
	TierLocal        Tier = "local"
	TierRemoteCPU    Tier = "remote-cpu"
	TierRemoteGPUGCP Tier = "remote-gpu-gcp"
	TierRemoteGPUAWS Tier = "remote-gpu-aws"
)

// TierParams carries the tier-specific job fields. Local ignores them.
type TierParams struct {
	JobName        string
	QueueName      string
	ContainerImage string
}

// DefaultBatchSize is the number of attempts between stop-flag checks and
// progress ticks on the local tier. Smaller batches cut cancellation
// latency at the cost of more synchronization.
const DefaultBatchSize = 5000

// JobSpec describes one search job. OnProgress, when set, receives local
// per-batch ticks serialized through a single aggregation point; remote
// tiers do not emit ticks.
type JobSpec struct {
	Pattern    pattern.Spec
	Mode       keygen.Mode
	Threads    int
	BatchSize  int
	Params     TierParams
	OnProgress func(Progress)
}

// Progress is one batch-boundary tick.
type Progress struct {
	Batch        int           // global batch index, assigned at emission
	Attempts     int64         // attempts in this batch
	BatchElapsed time.Duration // wall time of this batch
	TotalElapsed time.Duration // cumulative elapsed, non-decreasing across ticks
}

// Result is what a finished search yields, identical in shape across tiers.
// It is owned by the caller; the engine retains no reference to the secret
// material it carries.
type Result struct {
	Matched           keygen.Candidate
	BatchesProcessed  int64
	AttemptsProcessed int64
	Elapsed           time.Duration
}

// Status is a job lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobState is a point-in-time snapshot of a job. Result is set only when
// Status is Completed; Reason only when Failed.
type JobState struct {
	Status Status
	Result *Result
	Reason string
}

// Job is the opaque handle a Submit returns. Its lifecycle is owned by the
// backend that created it; callers only observe state through Poll.
type Job struct {
	ID          uuid.UUID
	Tier        Tier
	SubmittedAt time.Time
	Spec        JobSpec

	machine  stateMachine
	remoteID string
	local    *localJob
}

// RemoteID is the identifier the external service assigned ("" for local).
func (j *Job) RemoteID() string { return j.remoteID }

// Backend is the uniform execution contract. Submit begins work and returns
// a handle; Poll reflects current state; Cancel is best-effort;
// FetchResult is valid once Poll has reported Completed and is idempotent.
type Backend interface {
	Tier() Tier
	Submit(ctx context.Context, spec JobSpec) (*Job, error)
	Poll(ctx context.Context, job *Job) (JobState, error)
	Cancel(ctx context.Context, job *Job) error
	FetchResult(job *Job) (*Result, error)
}

// ErrResultNotReady is returned by FetchResult before the job completes.
var ErrResultNotReady = errors.New("backend: result not available before completion")

// RemoteSubmissionError surfaces a network/auth/quota failure reaching a
// remote tier, with the backend's diagnostic. Never retried automatically;
// operators resubmit.
type RemoteSubmissionError struct {
	Tier       Tier
	Diagnostic string
	Err        error
}

func (e *RemoteSubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend: %s submission failed: %s: %v", e.Tier, e.Diagnostic, e.Err)
	}
	return fmt.Sprintf("backend: %s submission failed: %s", e.Tier, e.Diagnostic)
}

func (e *RemoteSubmissionError) Unwrap() error { return e.Err }

// stateMachine enforces Created -> Submitted -> Running -> terminal.
// Submitted is never skipped, even when submission is synchronous, and no
// transition leaves a terminal state. The zero value is a job in Created.
type stateMachine struct {
	mu     sync.Mutex
	status Status
	result *Result
	reason string
}

var allowedTransitions = map[Status][]Status{
	StatusCreated:   {StatusSubmitted},
	StatusSubmitted: {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
}

func (m *stateMachine) currentLocked() Status {
	if m.status == "" {
		return StatusCreated
	}
	return m.status
}

func (m *stateMachine) transition(next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(next)
}

func (m *stateMachine) transitionLocked(next Status) error {
	for _, allowed := range allowedTransitions[m.currentLocked()] {
		if next == allowed {
			m.status = next
			return nil
		}
	}
	return fmt.Errorf("backend: illegal transition %s -> %s", m.currentLocked(), next)
}

func (m *stateMachine) complete(res *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	m.result = res
	return nil
}

func (m *stateMachine) fail(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(StatusFailed); err != nil {
		return err
	}
	m.reason = reason
	return nil
}

func (m *stateMachine) snapshot() JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return JobState{Status: m.currentLocked(), Result: m.result, Reason: m.reason}
}

// advanceTo moves the mirror toward observed, stepping through Running when
// the remote service reports a terminal state before we ever saw it run.
// Once terminal the mirror is frozen and observed states are ignored.
func (m *stateMachine) advanceTo(observed Status, res *Result, reason string) JobState {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.currentLocked()
	if cur.Terminal() || observed == cur {
		return JobState{Status: cur, Result: m.result, Reason: m.reason}
	}

	if observed.Terminal() && cur == StatusSubmitted {
		_ = m.transitionLocked(StatusRunning)
	}
	if err := m.transitionLocked(observed); err == nil {
		switch observed {
		case StatusCompleted:
			m.result = res
		case StatusFailed:
			m.reason = reason
		}
	}
	return JobState{Status: m.currentLocked(), Result: m.result, Reason: m.reason}
}

func (j *Job) validateSpec() error {
	if j.Spec.Threads < 1 {
		return fmt.Errorf("backend: thread count must be >= 1, got %d", j.Spec.Threads)
	}
	if j.Spec.Pattern.Len() == 0 {
		return pattern.ErrEmptyPattern
	}
	return nil
}
