package backend

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sol_vanity/internal/keygen"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCPU(t *testing.T, opts RedisCPUOptions) (*RedisCPU, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	opts.Addr = s.Addr()
	r := NewRedisCPU(opts, testLogger())
	t.Cleanup(func() { r.Close() }) //nolint:errcheck
	return r, s
}

func submitRedisJob(t *testing.T, r *RedisCPU, params TierParams) *Job {
	t.Helper()
	job, err := r.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "a", ""),
		Mode:    keygen.Raw(),
		Threads: 4,
		Params:  params,
	})
	require.NoError(t, err)
	return job
}

func TestRedisCPUSubmitWritesJobRecord(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})

	key := jobKey(job.RemoteID())
	assert.Equal(t, string(StatusSubmitted), s.HGet(key, redisStateField))
	assert.Equal(t, redisJobExpiration, s.TTL(key))

	_, err := time.Parse(time.RFC3339, s.HGet(key, redisSubmittedField))
	assert.NoError(t, err, "submitted_at should be RFC3339")

	var ws wireSpec
	require.NoError(t, json.Unmarshal([]byte(s.HGet(key, redisSpecField)), &ws))
	assert.Equal(t, "a", ws.Prefix)
	assert.Equal(t, 4, ws.Threads)
	assert.Equal(t, redisDefaultQueue, ws.QueueName)

	ids, err := s.List(redisDefaultQueue)
	require.NoError(t, err)
	assert.Contains(t, ids, job.RemoteID())

	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, state.Status)
}

func TestRedisCPUQueueSelection(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{Queue: "solvanity:highprio"})

	// The per-job queue wins over the backend default.
	job := submitRedisJob(t, r, TierParams{QueueName: "solvanity:override"})
	ids, err := s.List("solvanity:override")
	require.NoError(t, err)
	assert.Contains(t, ids, job.RemoteID())

	job = submitRedisJob(t, r, TierParams{})
	ids, err = s.List("solvanity:highprio")
	require.NoError(t, err)
	assert.Contains(t, ids, job.RemoteID())
}

func TestRedisCPULifecycle(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})
	key := jobKey(job.RemoteID())

	// A runner picks the job up.
	s.HSet(key, redisStateField, string(StatusRunning))
	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)

	// The runner finds a match and attaches the result payload.
	cand, err := keygen.Generator{}.Generate(keygen.Raw())
	require.NoError(t, err)
	payload, err := json.Marshal(wireResult{
		Address:      cand.Address,
		SecretBase58: cand.SecretBase58(),
		Attempts:     1234,
		Batches:      3,
		ElapsedMs:    1500,
	})
	require.NoError(t, err)
	s.HSet(key, redisResultField, string(payload))
	s.HSet(key, redisStateField, string(StatusCompleted))

	state, err = r.Poll(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, state.Status)

	res, err := r.FetchResult(job)
	require.NoError(t, err)
	assert.Equal(t, cand.Address, res.Matched.Address)
	assert.Equal(t, []byte(cand.Secret), []byte(res.Matched.Secret))
	assert.Equal(t, int64(1234), res.AttemptsProcessed)
	assert.Equal(t, int64(3), res.BatchesProcessed)
	assert.Equal(t, 1500*time.Millisecond, res.Elapsed)

	again, err := r.FetchResult(job)
	require.NoError(t, err)
	assert.Equal(t, res, again, "FetchResult should be idempotent")

	// Terminal state is served from the mirror; Redis is not consulted.
	s.SetError("connection refused")
	state, err = r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestRedisCPUPollEvictedRecord(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})

	s.Del(jobKey(job.RemoteID()))

	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Reason, "expired or was evicted")

	// Failed is frozen even if the record were to reappear.
	s.HSet(jobKey(job.RemoteID()), redisStateField, string(StatusRunning))
	state, err = r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
}

func TestRedisCPUPollMalformedResult(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})
	key := jobKey(job.RemoteID())

	s.HSet(key, redisResultField, "{not json")
	s.HSet(key, redisStateField, string(StatusCompleted))

	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Reason, "malformed result payload")

	_, err = r.FetchResult(job)
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestRedisCPUPollTruncatedSecret(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})
	key := jobKey(job.RemoteID())

	payload, err := json.Marshal(wireResult{Address: "abc", SecretBase58: "2g"})
	require.NoError(t, err)
	s.HSet(key, redisResultField, string(payload))
	s.HSet(key, redisStateField, string(StatusCompleted))

	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Reason, "malformed secret key")
}

func TestRedisCPUPollUnknownState(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})
	key := jobKey(job.RemoteID())

	s.HSet(key, redisStateField, "REBALANCING")
	_, err := r.Poll(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown remote cpu job state")

	// The mirror did not move; a sane state resumes polling.
	s.HSet(key, redisStateField, string(StatusRunning))
	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)
}

func TestRedisCPUCancelSetsFlag(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	job := submitRedisJob(t, r, TierParams{})
	key := jobKey(job.RemoteID())

	require.NoError(t, r.Cancel(context.Background(), job))
	assert.Equal(t, "1", s.HGet(key, redisCancelField))

	// Cancellation is eventually consistent: the job stays live until a
	// runner acknowledges the flag at a batch boundary.
	state, err := r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, state.Status)

	s.HSet(key, redisStateField, string(StatusCancelled))
	state, err = r.Poll(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, state.Status)

	_, err = r.FetchResult(job)
	assert.ErrorIs(t, err, ErrResultNotReady)
}

func TestRedisCPUSubmitFailure(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})
	s.SetError("READONLY You can't write against a read only replica.")

	_, err := r.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "a", ""),
		Mode:    keygen.Raw(),
		Threads: 2,
	})

	var remoteErr *RemoteSubmissionError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, TierRemoteCPU, remoteErr.Tier)
	assert.Equal(t, "enqueue failed", remoteErr.Diagnostic)
}

func TestRedisCPUSubmitValidatesSpec(t *testing.T) {
	r, s := newTestRedisCPU(t, RedisCPUOptions{})

	_, err := r.Submit(context.Background(), JobSpec{
		Pattern: mustPattern(t, "a", ""),
		Mode:    keygen.Raw(),
	})
	require.Error(t, err)
	assert.Empty(t, s.Keys(), "nothing should be written for an invalid spec")
}
