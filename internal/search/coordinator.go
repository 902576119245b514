// Package search orchestrates vanity-address searches. The Coordinator is
// the component callers invoke: it validates the request, hands it to an
// execution backend, tracks the job to a terminal state and returns the
// same result shape no matter which tier did the work.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"sol_vanity/internal/backend"
	"sol_vanity/internal/estimate"
	"sol_vanity/internal/keygen"
	"sol_vanity/internal/pattern"

	"go.uber.org/zap"
)

// ErrCancelled reports caller-initiated cancellation. It is a normal
// terminal state, not a failure, in the same spirit as context.Canceled.
var ErrCancelled = errors.New("search: cancelled")

// ErrRemoteTimeout reports that a job outlived the configured maximum wait.
// A best-effort cancel is issued first; backend-side resources are never
// force-deleted.
var ErrRemoteTimeout = errors.New("search: job exceeded maximum wait")

// FailedError carries the backend's diagnostic for a job that ended in
// Failed. Operators decide whether to resubmit; nothing retries here.
type FailedError struct {
	Tier   backend.Tier
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("search: %s job failed: %s", e.Tier, e.Reason)
}

// Request is one search invocation. Threads defaults to the logical core
// count; values above it are accepted here (confirmation is the prompt
// layer's business, not the engine's).
type Request struct {
	Pattern    pattern.Spec
	Mode       keygen.Mode
	Threads    int
	BatchSize  int
	Tier       backend.Tier
	TierParams backend.TierParams

	// PollInterval bounds how often the backend is queried. Zero picks a
	// per-tier default: tight for local, a few seconds for remote.
	PollInterval time.Duration

	// MaxWait, when positive, turns an overlong job into ErrRemoteTimeout.
	MaxWait time.Duration
}

const (
	localPollInterval  = 25 * time.Millisecond
	remotePollInterval = 3 * time.Second

	// How long a drain after cancellation may take before we stop waiting
	// for the backend to acknowledge. Remote cancellation is eventually
	// consistent; the caller gets ErrCancelled either way.
	cancelDrainBudget = 10 * time.Second
)

// Coordinator runs searches against a fixed set of execution backends.
// Each Run call is independent; nothing persists between invocations.
type Coordinator struct {
	log        *zap.SugaredLogger
	backends   map[backend.Tier]backend.Backend
	calibrator estimate.Calibrator

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// NewCoordinator builds a coordinator over the given backends.
func NewCoordinator(log *zap.SugaredLogger, backends ...backend.Backend) *Coordinator {
	m := make(map[backend.Tier]backend.Backend, len(backends))
	for _, b := range backends {
		m[b.Tier()] = b
	}
	return &Coordinator{log: log, backends: m}
}

// Calibrate measures single-thread generation throughput for the mode and
// returns the sample scaled to threadCount. Advisory; it never gates a run.
func (c *Coordinator) Calibrate(ctx context.Context, mode keygen.Mode, threadCount int, sampleDuration time.Duration) (estimate.Sample, error) {
	return c.calibrator.Calibrate(ctx, mode, threadCount, sampleDuration)
}

// Cancel stops the active run, if any. Safe to call from any goroutine and
// at any time; a run that already finished is unaffected.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
}

// Run executes the request to a terminal state. On a match it returns the
// winning result; cancellation yields ErrCancelled, an overlong job
// ErrRemoteTimeout, and a failed job a *FailedError with the backend's
// diagnostic. Validation failures are reported before any search work.
func (c *Coordinator) Run(ctx context.Context, req Request, onProgress func(backend.Progress)) (*backend.Result, error) {
	if req.Pattern.Len() == 0 {
		return nil, pattern.ErrEmptyPattern
	}
	if req.Threads == 0 {
		req.Threads = runtime.NumCPU()
	}
	if req.Threads < 1 {
		return nil, fmt.Errorf("search: thread count must be >= 1, got %d", req.Threads)
	}
	if req.Tier == "" {
		req.Tier = backend.TierLocal
	}
	be, ok := c.backends[req.Tier]
	if !ok {
		return nil, fmt.Errorf("search: no backend registered for tier %q", req.Tier)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setCancel(cancel)
	defer c.setCancel(nil)

	job, err := be.Submit(runCtx, backend.JobSpec{
		Pattern:    req.Pattern,
		Mode:       req.Mode,
		Threads:    req.Threads,
		BatchSize:  req.BatchSize,
		Params:     req.TierParams,
		OnProgress: onProgress,
	})
	if err != nil {
		return nil, err
	}

	c.log.Infow("search submitted",
		"tier", req.Tier,
		"job_id", job.ID,
		"pattern", req.Pattern.String(),
		"mode", req.Mode.String(),
		"threads", req.Threads)

	interval := req.PollInterval
	if interval <= 0 {
		if req.Tier == backend.TierLocal {
			interval = localPollInterval
		} else {
			interval = remotePollInterval
		}
	}

	var deadline time.Time
	if req.MaxWait > 0 {
		deadline = time.Now().Add(req.MaxWait)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := be.Poll(context.Background(), job)
		if err != nil {
			return nil, err
		}

		switch state.Status {
		case backend.StatusCompleted:
			return be.FetchResult(job)
		case backend.StatusFailed:
			return nil, &FailedError{Tier: req.Tier, Reason: state.Reason}
		case backend.StatusCancelled:
			return nil, ErrCancelled
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			c.log.Warnw("search exceeded maximum wait, issuing courtesy cancel",
				"tier", req.Tier, "job_id", job.ID, "max_wait", req.MaxWait)
			if cerr := be.Cancel(context.Background(), job); cerr != nil {
				c.log.Warnw("courtesy cancel failed", "job_id", job.ID, "error", cerr)
			}
			return nil, ErrRemoteTimeout
		}

		select {
		case <-runCtx.Done():
			return c.drainCancelled(be, job, interval)
		case <-ticker.C:
		}
	}
}

// drainCancelled issues the backend cancel and waits, bounded, for the job
// to settle. A match that raced the cancellation still wins: cancellation
// was not yet observed by the job, so its result is returned.
func (c *Coordinator) drainCancelled(be backend.Backend, job *backend.Job, interval time.Duration) (*backend.Result, error) {
	if err := be.Cancel(context.Background(), job); err != nil {
		c.log.Warnw("cancel failed", "job_id", job.ID, "error", err)
	}

	drainDeadline := time.Now().Add(cancelDrainBudget)
	for time.Now().Before(drainDeadline) {
		state, err := be.Poll(context.Background(), job)
		if err != nil {
			c.log.Warnw("poll failed while draining cancellation", "job_id", job.ID, "error", err)
			return nil, ErrCancelled
		}
		switch state.Status {
		case backend.StatusCompleted:
			return be.FetchResult(job)
		case backend.StatusFailed:
			return nil, &FailedError{Tier: job.Tier, Reason: state.Reason}
		case backend.StatusCancelled:
			return nil, ErrCancelled
		}
		time.Sleep(interval)
	}
	return nil, ErrCancelled
}
