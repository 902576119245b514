package backend

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sol_vanity/internal/keygen"
)

// wireSpec is the job description every remote tier receives. The remote
// runner executes the same logical search the local tier would.
type wireSpec struct {
	JobName        string `json:"jobName"`
	QueueName      string `json:"queueName,omitempty"`
	ContainerImage string `json:"containerImage,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	Suffix         string `json:"suffix,omitempty"`
	Mode           string `json:"mode"`
	Words          int    `json:"words,omitempty"`
	Threads        int    `json:"threads"`
}

func wireSpecFrom(spec JobSpec) wireSpec {
	return wireSpec{
		JobName:        spec.Params.JobName,
		QueueName:      spec.Params.QueueName,
		ContainerImage: spec.Params.ContainerImage,
		Prefix:         spec.Pattern.Prefix(),
		Suffix:         spec.Pattern.Suffix(),
		Mode:           spec.Mode.Kind().String(),
		Words:          spec.Mode.Words(),
		Threads:        spec.Threads,
	}
}

// wireResult is the tier-independent result payload a remote runner reports.
type wireResult struct {
	Address      string `json:"address"`
	SecretBase58 string `json:"secretBase58"`
	Mnemonic     string `json:"mnemonic,omitempty"`
	Attempts     int64  `json:"attempts"`
	Batches      int64  `json:"batches"`
	ElapsedMs    int64  `json:"elapsedMs"`
}

func resultFromWire(w wireResult) (*Result, error) {
	secret := keygen.DecodeSecretBase58(w.SecretBase58)
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("backend: remote result carries malformed secret key (%d bytes)", len(secret))
	}
	priv := ed25519.PrivateKey(secret)
	return &Result{
		Matched: keygen.Candidate{
			Address:  w.Address,
			Public:   priv.Public().(ed25519.PublicKey),
			Secret:   priv,
			Mnemonic: w.Mnemonic,
		},
		BatchesProcessed:  w.Batches,
		AttemptsProcessed: w.Attempts,
		Elapsed:           time.Duration(w.ElapsedMs) * time.Millisecond,
	}, nil
}

// restClient is the thin HTTP layer under the GCP and AWS tiers. The batch
// services themselves are external collaborators; this client only speaks
// the narrow submit/describe/cancel surface.
type restClient struct {
	endpoint   string
	authHeader string
	authValue  string
	http       *http.Client
}

func newRESTClient(endpoint, authHeader, authValue string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &restClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		authHeader: authHeader,
		authValue:  authValue,
		http:       &http.Client{Timeout: timeout},
	}
}

func (c *restClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %s: %s", method, path, resp.Status, strings.TrimSpace(string(diag)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
