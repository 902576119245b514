package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"sol_vanity/internal/keygen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGCPBatch serves the narrow job surface the GCP backend speaks,
// advancing QUEUED -> RUNNING -> SUCCEEDED one poll at a time.
type fakeGCPBatch struct {
	mu        sync.Mutex
	polls     int
	cancelled bool
	result    wireResult
	authSeen  string
}

func (f *fakeGCPBatch) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authSeen = r.Header.Get("Authorization")
		f.mu.Unlock()
		json.NewEncoder(w).Encode(gcpJobResponse{Name: "job-12345", State: "QUEUED"})
	})
	mux.HandleFunc("/v1/job-12345", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		resp := gcpJobResponse{Name: "job-12345"}
		switch {
		case f.cancelled:
			resp.State = "CANCELLED"
		case f.polls == 1:
			resp.State = "QUEUED"
		case f.polls == 2:
			resp.State = "RUNNING"
		default:
			resp.State = "SUCCEEDED"
			resp.Result = &f.result
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/job-12345:cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestGCPBatchLifecycle(t *testing.T) {
	c, err := keygen.Generator{}.Generate(keygen.Raw())
	require.NoError(t, err)

	fake := &fakeGCPBatch{result: wireResult{
		Address:      c.Address,
		SecretBase58: c.SecretBase58(),
		Attempts:     100,
		Batches:      2,
		ElapsedMs:    750,
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	g := NewGCPBatch(GCPBatchOptions{
		Endpoint:     srv.URL,
		Token:        "test-token",
		DefaultQueue: "gpu-queue",
		DefaultImage: "vanity-runner:latest",
	}, testLogger())

	job, err := g.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "SOL", ""),
		Mode:    keygen.Raw(),
		Threads: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-12345", job.RemoteID())
	assert.Equal(t, "Bearer test-token", fake.authSeen)

	// Still queued: the mirror stays in Submitted.
	state, err := g.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, state.Status)

	state, err = g.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)

	state, err = g.Poll(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, state.Status)

	res, err := g.FetchResult(job)
	require.NoError(t, err)
	assert.Equal(t, c.Address, res.Matched.Address)
	assert.EqualValues(t, 100, res.AttemptsProcessed)

	// Terminal mirror is frozen; further polls do not hit the service.
	pollsBefore := fake.polls
	state, err = g.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, pollsBefore, fake.polls)
}

func TestGCPBatchCancel(t *testing.T) {
	fake := &fakeGCPBatch{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	g := NewGCPBatch(GCPBatchOptions{Endpoint: srv.URL, Token: "tok"}, testLogger())
	job, err := g.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "a", ""),
		Mode:    keygen.Raw(),
		Threads: 1,
	})
	require.NoError(t, err)

	require.NoError(t, g.Cancel(context.Background(), job))

	state, err := g.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, state.Status)

	_, err = g.FetchResult(job)
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestGCPBatchSubmissionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded for gpu jobs", http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGCPBatch(GCPBatchOptions{Endpoint: srv.URL, Token: "tok"}, testLogger())
	_, err := g.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "a", ""),
		Mode:    keygen.Raw(),
		Threads: 1,
	})

	var subErr *RemoteSubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, TierRemoteGPUGCP, subErr.Tier)
	assert.Contains(t, subErr.Error(), "quota exceeded")
}

// fakeAWSBatch mirrors the AWS-flavored surface.
type fakeAWSBatch struct {
	mu     sync.Mutex
	polls  int
	result wireResult
}

func (f *fakeAWSBatch) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/submitjob", func(w http.ResponseWriter, r *http.Request) {
		var req awsSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobQueue == "" {
			http.Error(w, "missing job queue", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(awsSubmitResponse{JobID: "aws-777"})
	})
	mux.HandleFunc("/v1/describejobs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		detail := awsJobDetail{JobID: "aws-777"}
		switch f.polls {
		case 1:
			detail.Status = "RUNNABLE"
		case 2:
			detail.Status = "RUNNING"
		default:
			detail.Status = "SUCCEEDED"
			detail.Result = &f.result
		}
		json.NewEncoder(w).Encode(awsDescribeResponse{Jobs: []awsJobDetail{detail}})
	})
	mux.HandleFunc("/v1/canceljob", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestAWSBatchLifecycle(t *testing.T) {
	c, err := keygen.Generator{}.Generate(keygen.Raw())
	require.NoError(t, err)

	fake := &fakeAWSBatch{result: wireResult{
		Address:      c.Address,
		SecretBase58: c.SecretBase58(),
		Attempts:     9,
		Batches:      1,
		ElapsedMs:    30,
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	a := NewAWSBatch(AWSBatchOptions{
		Endpoint:     srv.URL,
		AuthToken:    "session",
		DefaultQueue: "gpu-spot",
		DefaultImage: "vanity-runner:latest",
	}, testLogger())

	job, err := a.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "", "9"),
		Mode:    keygen.Raw(),
		Threads: 128,
	})
	require.NoError(t, err)
	assert.Equal(t, "aws-777", job.RemoteID())

	state, err := a.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, state.Status)

	state, err = a.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)

	state, err = a.Poll(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, state.Status)

	res, err := a.FetchResult(job)
	require.NoError(t, err)
	assert.Equal(t, c.Address, res.Matched.Address)
}

func TestAWSBatchSubmissionFailureSurfacesDiagnostic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired security token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	// No default queue and none in params: the fake rejects the submit.
	a := NewAWSBatch(AWSBatchOptions{Endpoint: srv.URL, AuthToken: "old"}, testLogger())
	_, err := a.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "a", ""),
		Mode:    keygen.Raw(),
		Threads: 1,
	})

	var subErr *RemoteSubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, TierRemoteGPUAWS, subErr.Tier)
	assert.Contains(t, subErr.Error(), "expired security token")
}
