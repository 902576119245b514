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

// AWSBatch delegates a search to a GPU job on AWS's batch service, through
// the same narrow submit/describe/cancel surface the GCP tier uses.
type AWSBatch struct {
	client *restClient
	log    *zap.SugaredLogger

	defaultQueue string
	defaultImage string
}

// AWSBatchOptions configures the AWS GPU tier.
type AWSBatchOptions struct {
	Endpoint     string // e.g. https://batch.us-east-1.amazonaws.com
	AuthToken    string // pre-signed session token
	DefaultQueue string
	DefaultImage string
}

// NewAWSBatch creates the AWS GPU backend.
func NewAWSBatch(opts AWSBatchOptions, log *zap.SugaredLogger) *AWSBatch {
	return &AWSBatch{
		client:       newRESTClient(opts.Endpoint, "X-Amz-Security-Token", opts.AuthToken, 0),
		log:          log,
		defaultQueue: opts.DefaultQueue,
		defaultImage: opts.DefaultImage,
	}
}

// Tier implements Backend.
func (a *AWSBatch) Tier() Tier { return TierRemoteGPUAWS }

type awsSubmitRequest struct {
	JobName  string   `json:"jobName"`
	JobQueue string   `json:"jobQueue"`
	Image    string   `json:"containerImage"`
	GPUCount int      `json:"gpuCount"`
	Spec     wireSpec `json:"spec"`
}

type awsSubmitResponse struct {
	JobID string `json:"jobId"`
}

type awsDescribeResponse struct {
	Jobs []awsJobDetail `json:"jobs"`
}

type awsJobDetail struct {
	JobID        string      `json:"jobId"`
	Status       string      `json:"status"`
	StatusReason string      `json:"statusReason,omitempty"`
	Result       *wireResult `json:"result,omitempty"`
}

// Submit implements Backend.
func (a *AWSBatch) Submit(ctx context.Context, spec JobSpec) (*Job, error) {
	job := &Job{
		ID:   uuid.New(),
		Tier: TierRemoteGPUAWS,
		Spec: spec,
	}
	if err := job.validateSpec(); err != nil {
		return nil, err
	}

	ws := wireSpecFrom(spec)
	req := awsSubmitRequest{
		JobName:  ws.JobName,
		JobQueue: ws.QueueName,
		Image:    ws.ContainerImage,
		GPUCount: 1,
		Spec:     ws,
	}
	if req.JobName == "" {
		req.JobName = "sol-vanity-" + job.ID.String()
	}
	if req.JobQueue == "" {
		req.JobQueue = a.defaultQueue
	}
	if req.Image == "" {
		req.Image = a.defaultImage
	}

	var resp awsSubmitResponse
	if err := a.client.do(ctx, http.MethodPost, "/v1/submitjob", req, &resp); err != nil {
		return nil, &RemoteSubmissionError{Tier: TierRemoteGPUAWS, Diagnostic: "submitjob rejected", Err: err}
	}
	if resp.JobID == "" {
		return nil, &RemoteSubmissionError{Tier: TierRemoteGPUAWS, Diagnostic: "service returned no job id"}
	}

	job.remoteID = resp.JobID
	job.SubmittedAt = time.Now()
	_ = job.machine.transition(StatusSubmitted)
	a.log.Infow("aws gpu job submitted", "job_id", job.ID, "remote_id", resp.JobID, "queue", req.JobQueue)
	return job, nil
}

// Poll implements Backend.
func (a *AWSBatch) Poll(ctx context.Context, job *Job) (JobState, error) {
	if state := job.machine.snapshot(); state.Status.Terminal() {
		return state, nil
	}

	var resp awsDescribeResponse
	if err := a.client.do(ctx, http.MethodGet, "/v1/describejobs?jobs="+url.QueryEscape(job.remoteID), nil, &resp); err != nil {
		return JobState{}, fmt.Errorf("backend: polling aws job %s: %w", job.remoteID, err)
	}
	if len(resp.Jobs) == 0 {
		return JobState{}, fmt.Errorf("backend: aws job %s not found", job.remoteID)
	}

	observed, res, reason, err := a.translate(resp.Jobs[0])
	if err != nil {
		return JobState{}, err
	}
	return job.machine.advanceTo(observed, res, reason), nil
}

func (a *AWSBatch) translate(detail awsJobDetail) (Status, *Result, string, error) {
	switch detail.Status {
	case "SUBMITTED", "PENDING", "RUNNABLE", "STARTING":
		return StatusSubmitted, nil, "", nil
	case "RUNNING":
		return StatusRunning, nil, "", nil
	case "SUCCEEDED":
		if detail.Result == nil {
			return StatusFailed, nil, "succeeded without a result payload", nil
		}
		res, err := resultFromWire(*detail.Result)
		if err != nil {
			return "", nil, "", err
		}
		return StatusCompleted, res, "", nil
	case "FAILED":
		return StatusFailed, nil, detail.StatusReason, nil
	case "CANCELLED":
		return StatusCancelled, nil, "", nil
	default:
		return "", nil, "", fmt.Errorf("backend: unknown aws job status %q", detail.Status)
	}
}

// Cancel implements Backend; best-effort only.
func (a *AWSBatch) Cancel(ctx context.Context, job *Job) error {
	req := map[string]string{"jobId": job.remoteID, "reason": "cancelled by operator"}
	if err := a.client.do(ctx, http.MethodPost, "/v1/canceljob", req, nil); err != nil {
		return fmt.Errorf("backend: cancelling aws job %s: %w", job.remoteID, err)
	}
	return nil
}

// FetchResult implements Backend.
func (a *AWSBatch) FetchResult(job *Job) (*Result, error) {
	state := job.machine.snapshot()
	if state.Status != StatusCompleted {
		return nil, ErrResultNotReady
	}
	return state.Result, nil
}
