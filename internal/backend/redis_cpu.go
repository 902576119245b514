package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	redisJobKeyPrefix   = "solvanity:job:"
	redisDefaultQueue   = "solvanity:pending"
	redisJobExpiration  = 24 * time.Hour
	redisCancelField    = "cancel"
	redisStateField     = "state"
	redisSpecField      = "spec"
	redisResultField    = "result"
	redisReasonField    = "reason"
	redisSubmittedField = "submitted_at"
)

// RedisCPU delegates a search to a pool of remote CPU runners fed from a
// Redis queue. Submission writes the job hash and pushes its id onto the
// pending list; runners move the state field forward and attach the result.
type RedisCPU struct {
	client *redis.Client
	log    *zap.SugaredLogger
	queue  string
}

// RedisCPUOptions configures the remote CPU tier.
type RedisCPUOptions struct {
	Addr     string
	Password string
	DB       int
	Queue    string // pending list key; defaults to solvanity:pending
}

// NewRedisCPU creates the Redis-backed remote CPU backend.
func NewRedisCPU(opts RedisCPUOptions, log *zap.SugaredLogger) *RedisCPU {
	queue := opts.Queue
	if queue == "" {
		queue = redisDefaultQueue
	}
	return &RedisCPU{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		log:   log,
		queue: queue,
	}
}

// Tier implements Backend.
func (r *RedisCPU) Tier() Tier { return TierRemoteCPU }

func jobKey(id string) string { return redisJobKeyPrefix + id }

// Submit implements Backend.
func (r *RedisCPU) Submit(ctx context.Context, spec JobSpec) (*Job, error) {
	job := &Job{
		ID:   uuid.New(),
		Tier: TierRemoteCPU,
		Spec: spec,
	}
	if err := job.validateSpec(); err != nil {
		return nil, err
	}

	ws := wireSpecFrom(spec)
	if ws.QueueName == "" {
		ws.QueueName = r.queue
	}
	specJSON, err := json.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("backend: encoding job spec: %w", err)
	}

	id := job.ID.String()
	key := jobKey(id)
	now := time.Now()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		redisSpecField, specJSON,
		redisStateField, string(StatusSubmitted),
		redisSubmittedField, now.Format(time.RFC3339))
	pipe.Expire(ctx, key, redisJobExpiration)
	pipe.LPush(ctx, ws.QueueName, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &RemoteSubmissionError{Tier: TierRemoteCPU, Diagnostic: "enqueue failed", Err: err}
	}

	job.remoteID = id
	job.SubmittedAt = now
	_ = job.machine.transition(StatusSubmitted)
	r.log.Infow("remote cpu job enqueued", "job_id", job.ID, "queue", ws.QueueName)
	return job, nil
}

// Poll implements Backend. Runners write one of SUBMITTED, RUNNING,
// COMPLETED, FAILED or CANCELLED into the job hash's state field.
func (r *RedisCPU) Poll(ctx context.Context, job *Job) (JobState, error) {
	if state := job.machine.snapshot(); state.Status.Terminal() {
		return state, nil
	}

	fields, err := r.client.HGetAll(ctx, jobKey(job.remoteID)).Result()
	if err != nil {
		return JobState{}, fmt.Errorf("backend: polling remote cpu job %s: %w", job.remoteID, err)
	}
	if len(fields) == 0 {
		return job.machine.advanceTo(StatusFailed, nil, "job record expired or was evicted"), nil
	}

	observed := Status(fields[redisStateField])
	switch observed {
	case StatusSubmitted, StatusRunning, StatusCancelled:
		return job.machine.advanceTo(observed, nil, ""), nil
	case StatusFailed:
		return job.machine.advanceTo(StatusFailed, nil, fields[redisReasonField]), nil
	case StatusCompleted:
		var w wireResult
		if err := json.Unmarshal([]byte(fields[redisResultField]), &w); err != nil {
			return job.machine.advanceTo(StatusFailed, nil, fmt.Sprintf("malformed result payload: %v", err)), nil
		}
		res, err := resultFromWire(w)
		if err != nil {
			return job.machine.advanceTo(StatusFailed, nil, err.Error()), nil
		}
		return job.machine.advanceTo(StatusCompleted, res, ""), nil
	default:
		return JobState{}, fmt.Errorf("backend: unknown remote cpu job state %q", observed)
	}
}

// Cancel implements Backend. Sets the cancel flag on the job hash; a runner
// observes it at its next batch boundary, so cancellation is eventually
// consistent. The job record itself is never deleted here.
func (r *RedisCPU) Cancel(ctx context.Context, job *Job) error {
	if err := r.client.HSet(ctx, jobKey(job.remoteID), redisCancelField, "1").Err(); err != nil {
		return fmt.Errorf("backend: cancelling remote cpu job %s: %w", job.remoteID, err)
	}
	return nil
}

// FetchResult implements Backend.
func (r *RedisCPU) FetchResult(job *Job) (*Result, error) {
	state := job.machine.snapshot()
	if state.Status != StatusCompleted {
		return nil, ErrResultNotReady
	}
	return state.Result, nil
}

// Close releases the Redis connection pool.
func (r *RedisCPU) Close() error {
	return r.client.Close()
}
