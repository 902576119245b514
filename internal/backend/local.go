package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sol_vanity/internal/keygen"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Local runs searches across worker goroutines in this process. Submission
// is synchronous: by the time Submit returns, the job has passed through
// Submitted and its workers are running.
type Local struct {
	log *zap.SugaredLogger
	gen keygen.Generator

	// Test seam; nil in production.
	generateFn func(keygen.Mode) (keygen.Candidate, error)
}

// NewLocal creates the local execution backend.
func NewLocal(log *zap.SugaredLogger) *Local {
	return &Local{log: log}
}

// Tier implements Backend.
func (l *Local) Tier() Tier { return TierLocal }

// localJob is the in-process side of a local Job. Workers share exactly two
// synchronization points: the stop flag, checked each batch, and the
// single-assignment winner slot, claimed by compare-and-swap.
type localJob struct {
	machine *stateMachine

	stop    atomic.Bool
	winner  atomic.Pointer[keygen.Candidate]
	failure atomic.Pointer[string]

	// Flushed only at batch boundaries; per-attempt counting stays worker-local.
	attempts atomic.Int64
	batches  atomic.Int64

	start time.Time
	ticks chan workerTick
	done  chan struct{}
}

type workerTick struct {
	attempts int64
	elapsed  time.Duration
}

// fail records the first failure and tears the whole job down. A partial
// thread count silently running on would corrupt throughput expectations,
// so one worker failing stops every worker.
func (j *localJob) fail(reason string) {
	j.failure.CompareAndSwap(nil, &reason)
	j.stop.Store(true)
}

// Submit implements Backend. It starts spec.Threads identical, independent
// worker loops; candidates are independently random so no keyspace
// partitioning is needed or wanted.
func (l *Local) Submit(ctx context.Context, spec JobSpec) (*Job, error) {
	if spec.BatchSize <= 0 {
		spec.BatchSize = DefaultBatchSize
	}

	job := &Job{
		ID:   uuid.New(),
		Tier: TierLocal,
		Spec: spec,
	}
	if err := job.validateSpec(); err != nil {
		return nil, err
	}

	lj := &localJob{
		machine: &job.machine,
		start:   time.Now(),
		ticks:   make(chan workerTick, spec.Threads*2),
		done:    make(chan struct{}),
	}
	job.local = lj

	if err := job.machine.transition(StatusSubmitted); err != nil {
		return nil, err
	}
	job.SubmittedAt = time.Now()
	if err := job.machine.transition(StatusRunning); err != nil {
		return nil, err
	}

	// Single aggregation point: ticks from all workers are serialized here,
	// so progress reaches the caller in non-decreasing elapsed-time order.
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		index := 0
		for t := range lj.ticks {
			index++
			if spec.OnProgress != nil {
				spec.OnProgress(Progress{
					Batch:        index,
					Attempts:     t.attempts,
					BatchElapsed: t.elapsed,
					TotalElapsed: time.Since(lj.start),
				})
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < spec.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.runWorker(lj, spec)
		}()
	}

	go func() {
		wg.Wait()
		close(lj.ticks)
		<-aggDone
		lj.finalize()
		close(lj.done)
	}()

	l.log.Infow("local job started",
		"job_id", job.ID,
		"threads", spec.Threads,
		"batch_size", spec.BatchSize,
		"pattern", spec.Pattern.String(),
		"mode", spec.Mode.String())
	return job, nil
}

// runWorker is one generation loop. The stop flag is only consulted at
// batch boundaries, which bounds cancellation latency to one batch of
// generation time.
func (l *Local) runWorker(j *localJob, spec JobSpec) {
	defer func() {
		if r := recover(); r != nil {
			j.fail(fmt.Sprintf("worker panic: %v", r))
		}
	}()

	for !j.stop.Load() {
		batchStart := time.Now()
		var n int64

		for i := 0; i < spec.BatchSize; i++ {
			c, err := l.generate(spec.Mode)
			if err != nil {
				j.attempts.Add(n)
				j.fail(err.Error())
				return
			}
			n++

			if spec.Pattern.Matches(c.Address) {
				claimed := c
				if j.winner.CompareAndSwap(nil, &claimed) {
					// Exactly one CAS succeeds; ties within a batch window
					// are broken nondeterministically. Losing candidates
					// simply go out of scope, secret material and all.
					j.stop.Store(true)
				}
				break
			}
		}

		j.attempts.Add(n)
		j.batches.Add(1)

		if j.stop.Load() {
			return
		}
		j.ticks <- workerTick{attempts: n, elapsed: time.Since(batchStart)}
	}
}

func (l *Local) generate(mode keygen.Mode) (keygen.Candidate, error) {
	if l.generateFn != nil {
		return l.generateFn(mode)
	}
	return l.gen.Generate(mode)
}

func (j *localJob) finalize() {
	elapsed := time.Since(j.start)
	switch {
	case j.winner.Load() != nil:
		w := j.winner.Load()
		_ = j.machine.complete(&Result{
			Matched:           *w,
			BatchesProcessed:  j.batches.Load(),
			AttemptsProcessed: j.attempts.Load(),
			Elapsed:           elapsed,
		})
	case j.failure.Load() != nil:
		_ = j.machine.fail(*j.failure.Load())
	default:
		// Workers only stop for a winner, a failure or Cancel; with the
		// first two ruled out, the stop came from Cancel.
		_ = j.machine.transition(StatusCancelled)
	}
}

// Poll implements Backend; it reflects in-process state directly.
func (l *Local) Poll(_ context.Context, job *Job) (JobState, error) {
	if job.local == nil {
		return JobState{}, fmt.Errorf("backend: job %s was not submitted locally", job.ID)
	}
	return job.machine.snapshot(), nil
}

// Cancel implements Backend. Local cancellation is immediate: the stop flag
// is set and every worker observes it within one batch.
func (l *Local) Cancel(_ context.Context, job *Job) error {
	if job.local == nil {
		return fmt.Errorf("backend: job %s was not submitted locally", job.ID)
	}
	job.local.stop.Store(true)
	return nil
}

// FetchResult implements Backend.
func (l *Local) FetchResult(job *Job) (*Result, error) {
	state := job.machine.snapshot()
	if state.Status != StatusCompleted {
		return nil, ErrResultNotReady
	}
	return state.Result, nil
}

// Wait blocks until the job's workers have fully drained. Poll already
// reports terminal states; Wait exists so callers that need the goroutines
// gone (tests, process shutdown) have a hook.
func (l *Local) Wait(job *Job) {
	if job.local != nil {
		<-job.local.done
	}
}
