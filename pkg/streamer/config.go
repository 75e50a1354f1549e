package streamer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy decides what a failed cycle does to the checkpoint.
type Policy string

const (
	// PolicyRetry keeps the checkpoint and retries the same range after a pause.
	PolicyRetry Policy = "retry"
	// PolicyFailFast stops the streamer with the error.
	PolicyFailFast Policy = "fail-fast"
	// PolicyQuarantine records the range for inspection and moves past it.
	PolicyQuarantine Policy = "quarantine"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyRetry:
		return PolicyRetry, nil
	case PolicyFailFast, PolicyQuarantine:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// StartLatest resolves the start block to frontier - lag at first run.
const StartLatest int64 = -1

// ParseStartBlock accepts a block number or "latest".
func ParseStartBlock(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "latest") {
		return StartLatest, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid start block %q", s)
	}
	return n, nil
}

type Config struct {
	Chain      string
	Lag        uint64
	BatchSize  uint64
	StartBlock int64
	// EndBlock, when set, stops the streamer once the checkpoint reaches it.
	EndBlock      *uint64
	PollInterval  time.Duration
	RetryInterval time.Duration
	Policy        Policy
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.Policy == "" {
		c.Policy = PolicyRetry
	}
}

// ConfigError reports a configuration that contradicts persisted state.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// ComputeTarget returns the last block of the next batch and whether there is anything
// to sync. The target never exceeds frontier-lag, checkpoint+batch, or end.
func ComputeTarget(frontier, lag uint64, checkpoint int64, batch uint64, end *uint64) (int64, bool) {
	if frontier < lag {
		return checkpoint, false
	}
	target := int64(frontier - lag)
	if byBatch := checkpoint + int64(batch); byBatch < target {
		target = byBatch
	}
	if end != nil && int64(*end) < target {
		target = int64(*end)
	}
	return target, target > checkpoint
}
