// Package queue lets independent workers drain a shared append-only log of work units.
// Each unit is handled by one live consumer at a time; units left unacknowledged by a dead
// consumer are reclaimed after an idle timeout.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout  = 600 * time.Second
	DefaultPublishTTL   = 600 * time.Second
	DefaultHandledTTL   = 24 * time.Hour
	DefaultBlock        = 5 * time.Second
	DefaultReclaimBatch = 16
	DefaultStreamMaxLen = 100000
)

// Message is one log entry: a single key/value field plus the entry id the log assigned.
type Message struct {
	ID    string
	Key   string
	Value string
}

// WorkUnit is what a handler receives.
type WorkUnit struct {
	Message
	Consumer  string
	Reclaimed bool
}

// Backend holds the log, the group's delivery state, and the TTL markers.
type Backend interface {
	// EnsureGroup creates group at the current tail of stream, creating the stream if
	// absent. An existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error
	// PublishOnce appends key=value unless dedupeKey was set within ttl. It reports
	// whether the entry was appended.
	PublishOnce(ctx context.Context, stream, dedupeKey string, ttl time.Duration, maxLen int64, key, value string) (bool, error)
	// Read long-polls for one never-delivered entry. It returns nil when block elapses.
	Read(ctx context.Context, stream, group, consumer string, block time.Duration) (*Message, error)
	// Claim transfers up to count entries idle for at least minIdle to consumer,
	// scanning from cursor. It returns the next cursor.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, cursor string, count int64) ([]Message, string, error)
	Ack(ctx context.Context, stream, group, id string) error
	MarkHandled(ctx context.Context, key string, ttl time.Duration) error
	IsHandled(ctx context.Context, key string) (bool, error)
}

type Config struct {
	Stream         string
	Pipeline       string
	Stage          string
	ConsumerPrefix string
	IdleTimeout    time.Duration
	ReclaimBatch   int64
	Block          time.Duration
	PublishTTL     time.Duration
	HandledTTL     time.Duration
	StreamMaxLen   int64
	// ReclaimInterval and ReclaimMaxInterval bound the reclaimer's idle backoff.
	ReclaimInterval    time.Duration
	ReclaimMaxInterval time.Duration
	// RestartDelay is how long a crashed worker waits before starting again.
	RestartDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConsumerPrefix == "" {
		c.ConsumerPrefix = "worker"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ReclaimBatch <= 0 {
		c.ReclaimBatch = DefaultReclaimBatch
	}
	if c.Block <= 0 {
		c.Block = DefaultBlock
	}
	if c.PublishTTL <= 0 {
		c.PublishTTL = DefaultPublishTTL
	}
	if c.HandledTTL <= 0 {
		c.HandledTTL = DefaultHandledTTL
	}
	if c.StreamMaxLen < 0 {
		c.StreamMaxLen = 0
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 5 * time.Second
	}
	if c.ReclaimMaxInterval < c.ReclaimInterval {
		c.ReclaimMaxInterval = 12 * c.ReclaimInterval
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
}

type Queue struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(backend Backend, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Queue, error) {
	if backend == nil {
		return nil, errors.New("queue backend is required")
	}
	if cfg.Pipeline == "" || cfg.Stage == "" {
		return nil, errors.New("queue pipeline and stage are required")
	}
	if cfg.Stream == "" {
		cfg.Stream = cfg.Pipeline
	}
	cfg.applyDefaults()
	return &Queue{backend: backend, cfg: cfg, logger: logging.OrNop(logger), metrics: m}, nil
}

// Group is the consumer group name, {pipeline}:{stage}.
func (q *Queue) Group() string {
	return q.cfg.Pipeline + ":" + q.cfg.Stage
}

// ConsumerName is the identity of the index-th ordinary worker.
func (q *Queue) ConsumerName(index int) string {
	return fmt.Sprintf("%s:%s-%d", q.Group(), q.cfg.ConsumerPrefix, index)
}

func (q *Queue) ReclaimerName() string {
	return fmt.Sprintf("%s:%s-reclaimer", q.Group(), q.cfg.ConsumerPrefix)
}

func (q *Queue) Stream() string { return q.cfg.Stream }

func (q *Queue) EnsureGroup(ctx context.Context) error {
	if err := q.backend.EnsureGroup(ctx, q.cfg.Stream, q.Group()); err != nil {
		return fmt.Errorf("ensure group %s on %s: %w", q.Group(), q.cfg.Stream, err)
	}
	q.logger.Info("Consumer group ready", zap.String("stream", q.cfg.Stream), zap.String("group", q.Group()))
	return nil
}

// Publish appends a unit unless the same key was published within the dedupe window.
func (q *Queue) Publish(ctx context.Context, key, value string) (bool, error) {
	published, err := q.backend.PublishOnce(ctx, q.cfg.Stream, q.publishKey(key), q.cfg.PublishTTL, q.cfg.StreamMaxLen, key, value)
	switch {
	case err != nil:
		q.metrics.Published(q.cfg.Stream, "error")
		return false, fmt.Errorf("publish %s: %w", key, err)
	case published:
		q.metrics.Published(q.cfg.Stream, "published")
	default:
		q.metrics.Published(q.cfg.Stream, "duplicate")
	}
	return published, nil
}

func (q *Queue) publishKey(key string) string {
	return q.cfg.Stream + ":published:" + key
}

func (q *Queue) handledKey(id string) string {
	return q.cfg.Stream + ":" + q.Group() + ":handled:" + id
}
