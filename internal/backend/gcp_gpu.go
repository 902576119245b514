package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GCPBatch delegates a search to a GPU job on GCP's batch service. The
// service's invocation mechanics stay behind its REST surface; this type
// only submits, polls and cancels.
type GCPBatch struct {
	client *restClient
	log    *zap.SugaredLogger

	defaultQueue string
	defaultImage string
}

// GCPBatchOptions configures the GCP GPU tier.
type GCPBatchOptions struct {
	Endpoint     string // e.g. https://batch.googleapis.com
	Token        string // bearer token
	DefaultQueue string
	DefaultImage string
}

// NewGCPBatch creates the GCP GPU backend.
func NewGCPBatch(opts GCPBatchOptions, log *zap.SugaredLogger) *GCPBatch {
	return &GCPBatch{
		client:       newRESTClient(opts.Endpoint, "Authorization", "Bearer "+opts.Token, 0),
		log:          log,
		defaultQueue: opts.DefaultQueue,
		defaultImage: opts.DefaultImage,
	}
}

// Tier implements Backend.
func (g *GCPBatch) Tier() Tier { return TierRemoteGPUGCP }

type gcpSubmitRequest struct {
	Spec        wireSpec `json:"spec"`
	Accelerator string   `json:"accelerator"`
}

type gcpJobResponse struct {
	Name          string      `json:"name"` // opaque job resource name
	State         string      `json:"state"`
	StatusMessage string      `json:"statusMessage,omitempty"`
	Result        *wireResult `json:"result,omitempty"`
}

// Submit implements Backend.
func (g *GCPBatch) Submit(ctx context.Context, spec JobSpec) (*Job, error) {
	job := &Job{
		ID:   uuid.New(),
		Tier: TierRemoteGPUGCP,
		Spec: spec,
	}
	if err := job.validateSpec(); err != nil {
		return nil, err
	}

	ws := wireSpecFrom(spec)
	if ws.QueueName == "" {
		ws.QueueName = g.defaultQueue
	}
	if ws.ContainerImage == "" {
		ws.ContainerImage = g.defaultImage
	}
	if ws.JobName == "" {
		ws.JobName = "sol-vanity-" + job.ID.String()
	}

	var resp gcpJobResponse
	if err := g.client.do(ctx, http.MethodPost, "/v1/jobs", gcpSubmitRequest{Spec: ws, Accelerator: "gpu"}, &resp); err != nil {
		return nil, &RemoteSubmissionError{Tier: TierRemoteGPUGCP, Diagnostic: "job creation rejected", Err: err}
	}
	if resp.Name == "" {
		return nil, &RemoteSubmissionError{Tier: TierRemoteGPUGCP, Diagnostic: "service returned no job name"}
	}

	job.remoteID = resp.Name
	job.SubmittedAt = time.Now()
	_ = job.machine.transition(StatusSubmitted)
	g.log.Infow("gcp gpu job submitted", "job_id", job.ID, "remote_name", resp.Name, "queue", ws.QueueName)
	return job, nil
}

// Poll implements Backend. The mirror freezes once terminal, so a vanished
// remote job cannot resurrect a finished one.
func (g *GCPBatch) Poll(ctx context.Context, job *Job) (JobState, error) {
	if state := job.machine.snapshot(); state.Status.Terminal() {
		return state, nil
	}

	var resp gcpJobResponse
	if err := g.client.do(ctx, http.MethodGet, "/v1/"+url.PathEscape(job.remoteID), nil, &resp); err != nil {
		return JobState{}, fmt.Errorf("backend: polling gcp job %s: %w", job.remoteID, err)
	}

	observed, res, reason, err := g.translate(resp)
	if err != nil {
		return JobState{}, err
	}
	return job.machine.advanceTo(observed, res, reason), nil
}

func (g *GCPBatch) translate(resp gcpJobResponse) (Status, *Result, string, error) {
	switch resp.State {
	case "QUEUED", "SCHEDULED":
		return StatusSubmitted, nil, "", nil
	case "RUNNING":
		return StatusRunning, nil, "", nil
	case "SUCCEEDED":
		if resp.Result == nil {
			return StatusFailed, nil, "succeeded without a result payload", nil
		}
		res, err := resultFromWire(*resp.Result)
		if err != nil {
			return "", nil, "", err
		}
		return StatusCompleted, res, "", nil
	case "FAILED":
		return StatusFailed, nil, resp.StatusMessage, nil
	case "CANCELLED", "DELETION_IN_PROGRESS":
		return StatusCancelled, nil, "", nil
	default:
		return "", nil, "", fmt.Errorf("backend: unknown gcp job state %q", resp.State)
	}
}

// Cancel implements Backend. Best-effort; GCP cancellation is eventually
// consistent and the job may still complete.
func (g *GCPBatch) Cancel(ctx context.Context, job *Job) error {
	err := g.client.do(ctx, http.MethodPost, "/v1/"+url.PathEscape(job.remoteID)+":cancel", struct{}{}, nil)
	if err != nil {
		return fmt.Errorf("backend: cancelling gcp job %s: %w", job.remoteID, err)
	}
	return nil
}

// FetchResult implements Backend.
func (g *GCPBatch) FetchResult(job *Job) (*Result, error) {
	state := job.machine.snapshot()
	if state.Status != StatusCompleted {
		return nil, ErrResultNotReady
	}
	return state.Result, nil
}
