// Package estimate measures key-generation throughput and turns it into
// advisory time-to-match figures.
//
// Estimates never gate the search; a run continues until matched or
// cancelled regardless of how elapsed time compares to the forecast.
package estimate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"sol_vanity/internal/keygen"
)

// alphabetSize is the Base58 alphabet size, the base of the 58^-L
// per-attempt match probability.
const alphabetSize = 58

// worstCaseConfidence is the cumulative match probability bounded by the
// worst-case figure.
const worstCaseConfidence = 0.99

// Sample is one throughput measurement. Attempts per second are measured on
// a single worker; aggregate throughput scales linearly by ThreadCount,
// which is an approximation (real scaling is sublinear under randomness
// source contention and memory bandwidth limits). Re-measure per run rather
// than trusting an old sample.
type Sample struct {
	ThreadCount                int
	AttemptsPerSecondPerThread float64
	MeasuredAt                 time.Duration
}

// Throughput is the approximated aggregate attempts/sec across all threads.
func (s Sample) Throughput() float64 {
	return s.AttemptsPerSecondPerThread * float64(s.ThreadCount)
}

// Estimate holds advisory search durations derived from the geometric
// distribution of attempts-to-match.
type Estimate struct {
	BestCase    time.Duration // one lucky attempt
	AverageCase time.Duration // mean of the geometric distribution, 1/p attempts
	WorstCase   time.Duration // >= 99% cumulative probability of a match
}

// Calibrator runs short timed generation samples. The zero value is usable;
// a Calibrator may optionally cache samples per (mode, threadCount) via
// CalibrateCached, and the cache is never authoritative.
type Calibrator struct {
	gen keygen.Generator

	mu    sync.Mutex
	cache map[cacheKey]Sample
}

type cacheKey struct {
	mode    string
	threads int
}

// Calibrate runs a single generation worker for sampleDuration, counting
// attempts, and returns the resulting sample scaled for threadCount threads.
// Generation errors abort calibration immediately.
func (c *Calibrator) Calibrate(ctx context.Context, mode keygen.Mode, threadCount int, sampleDuration time.Duration) (Sample, error) {
	if threadCount < 1 {
		return Sample{}, fmt.Errorf("estimate: thread count must be >= 1, got %d", threadCount)
	}
	if sampleDuration <= 0 {
		return Sample{}, fmt.Errorf("estimate: sample duration must be positive, got %v", sampleDuration)
	}

	var attempts int64
	start := time.Now()
	deadline := start.Add(sampleDuration)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		if _, err := c.gen.Generate(mode); err != nil {
			return Sample{}, fmt.Errorf("estimate: calibration attempt failed: %w", err)
		}
		attempts++
	}

	elapsed := time.Since(start)
	return Sample{
		ThreadCount:                threadCount,
		AttemptsPerSecondPerThread: float64(attempts) / elapsed.Seconds(),
		MeasuredAt:                 elapsed,
	}, nil
}

// CalibrateCached returns a cached sample for (mode, threadCount) when one
// exists, measuring otherwise. Use Invalidate between runs; hardware load
// varies too much for a cross-run cache to be a safe default.
func (c *Calibrator) CalibrateCached(ctx context.Context, mode keygen.Mode, threadCount int, sampleDuration time.Duration) (Sample, error) {
	key := cacheKey{mode: mode.String(), threads: threadCount}

	c.mu.Lock()
	if s, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.Calibrate(ctx, mode, threadCount, sampleDuration)
	if err != nil {
		return Sample{}, err
	}

	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[cacheKey]Sample)
	}
	c.cache[key] = s
	c.mu.Unlock()
	return s, nil
}

// Invalidate drops all cached samples.
func (c *Calibrator) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// For derives the estimate for a pattern of combined length patternLen at
// the sample's aggregate throughput. Attempts-to-match are modeled as
// geometric with p = 58^-L over full addresses; partial early-reject
// tricks in the matcher do not change this model.
func (s Sample) For(patternLen int) (Estimate, error) {
	return forThroughput(patternLen, s.Throughput())
}

func forThroughput(patternLen int, throughput float64) (Estimate, error) {
	if patternLen < 1 {
		return Estimate{}, fmt.Errorf("estimate: pattern length must be >= 1, got %d", patternLen)
	}
	if throughput <= 0 {
		return Estimate{}, fmt.Errorf("estimate: throughput must be positive, got %f", throughput)
	}

	p := math.Pow(alphabetSize, -float64(patternLen))
	avgAttempts := 1 / p
	worstAttempts := math.Ceil(-math.Log(1-worstCaseConfidence) / p)

	return Estimate{
		BestCase:    secondsToDuration(1 / throughput),
		AverageCase: secondsToDuration(avgAttempts / throughput),
		WorstCase:   secondsToDuration(worstAttempts / throughput),
	}, nil
}

func secondsToDuration(s float64) time.Duration {
	if s > float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}

// FormatDuration renders a duration as "2d 3h 4m 5s" for human output.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	s := int64(d.Round(time.Second).Seconds())

	days := s / 86_400
	hours := (s % 86_400) / 3_600
	mins := (s % 3_600) / 60
	secs := s % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}
