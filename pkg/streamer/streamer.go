// Package streamer advances a checkpoint over a growing chain, exporting one batch of
// blocks per cycle.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainetl/chainetl/pkg/checkpoint"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"github.com/chainetl/chainetl/pkg/retry"
	"github.com/chainetl/chainetl/pkg/source"
	"go.uber.org/zap"
)

// Marker advertises that this streamer is alive while it runs.
type Marker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// RangeError is an export failure for a known range.
type RangeError struct {
	Start uint64
	End   uint64
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("export [%d,%d]: %v", e.Start, e.End, e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }

type Options struct {
	Marker     Marker
	Quarantine *QuarantineLog
	// BeforeClose runs after the sync loop exits and before the adapter is closed.
	BeforeClose func()
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Streamer struct {
	cfg        Config
	adapter    source.BlockSourceAdapter
	checkpoint checkpoint.Store
	opts       Options
	logger     *zap.Logger

	mu     sync.Mutex
	status Status
}

// Status is a point-in-time view of the streamer for /status.
type Status struct {
	Chain        string    `json:"chain"`
	Policy       Policy    `json:"policy"`
	Checkpoint   int64     `json:"checkpoint"`
	Frontier     uint64    `json:"frontier"`
	Target       int64     `json:"target"`
	Cycles       uint64    `json:"cycles"`
	Failures     uint64    `json:"failures"`
	Quarantined  uint64    `json:"quarantined"`
	LastError    string    `json:"last_error,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
	Running      bool      `json:"running"`
}

func New(cfg Config, adapter source.BlockSourceAdapter, cp checkpoint.Store, opts Options) (*Streamer, error) {
	cfg.applyDefaults()
	if adapter == nil || cp == nil {
		return nil, errors.New("streamer requires an adapter and a checkpoint")
	}
	if cfg.Policy == PolicyQuarantine && opts.Quarantine == nil {
		return nil, &ConfigError{Msg: "quarantine policy requires a quarantine log"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Streamer{
		cfg:        cfg,
		adapter:    adapter,
		checkpoint: cp,
		opts:       opts,
		logger:     logging.OrNop(opts.Logger).With(zap.String("chain", cfg.Chain)),
		status:     Status{Chain: cfg.Chain, Policy: cfg.Policy, Checkpoint: -1},
	}, nil
}

// Status implements the status reporter.
func (s *Streamer) Status() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Streamer) update(fn func(st *Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Checkpoint returns the last committed block, -1 before anything was synced.
func (s *Streamer) Checkpoint() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Checkpoint
}

// Run holds the liveness marker and the adapter for its whole duration and releases both
// on every exit, including panics. It returns nil when ctx is cancelled or the end block
// is reached.
func (s *Streamer) Run(ctx context.Context) error {
	if s.opts.Marker != nil {
		if err := s.opts.Marker.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire liveness marker: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.opts.Marker.Release(releaseCtx); err != nil {
				s.logger.Warn("Failed to release liveness marker", zap.Error(err))
			}
		}()
	}

	if err := s.adapter.Open(ctx); err != nil {
		return fmt.Errorf("open adapter: %w", err)
	}
	defer func() {
		if err := s.adapter.Close(); err != nil {
			s.logger.Warn("Failed to close adapter", zap.Error(err))
		}
	}()
	if s.opts.BeforeClose != nil {
		defer s.opts.BeforeClose()
	}

	s.update(func(st *Status) { st.Running = true })
	defer s.update(func(st *Status) { st.Running = false })

	if err := s.Init(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			s.logger.Info("Streamer stopping", zap.Int64("checkpoint", s.Checkpoint()))
			return nil
		}
		if s.reachedEnd() {
			s.logger.Info("Reached end block", zap.Int64("checkpoint", s.Checkpoint()))
			return nil
		}

		synced, err := s.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.handleFailure(ctx, err); err != nil {
				return err
			}
			continue
		}
		if !synced && !retry.Sleep(ctx, s.cfg.PollInterval) {
			return nil
		}
	}
}

func (s *Streamer) reachedEnd() bool {
	return s.cfg.EndBlock != nil && s.Checkpoint() >= int64(*s.cfg.EndBlock)
}

// Init loads the checkpoint, seeding it at start-1 on first run.
func (s *Streamer) Init(ctx context.Context) error {
	cp, ok, err := s.checkpoint.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	if ok {
		if s.cfg.StartBlock != StartLatest && cp+1 < s.cfg.StartBlock {
			return &ConfigError{Msg: fmt.Sprintf(
				"checkpoint %d is below requested start block %d; remove the checkpoint or the start block", cp, s.cfg.StartBlock)}
		}
		s.setCheckpoint(cp)
		s.logger.Info("Resuming from checkpoint", zap.Int64("checkpoint", cp))
		return nil
	}

	start := s.cfg.StartBlock
	if start == StartLatest {
		f, err := s.adapter.CurrentBlock(ctx)
		if err != nil {
			return fmt.Errorf("resolve latest start block: %w", err)
		}
		start = 0
		if f.Number > s.cfg.Lag {
			start = int64(f.Number - s.cfg.Lag)
		}
	}
	seed := start - 1
	if err := s.checkpoint.Save(seed); err != nil {
		return fmt.Errorf("seed checkpoint: %w", err)
	}
	s.setCheckpoint(seed)
	s.logger.Info("Seeded checkpoint", zap.Int64("start_block", start))
	return nil
}

func (s *Streamer) setCheckpoint(cp int64) {
	s.update(func(st *Status) { st.Checkpoint = cp })
	s.opts.Metrics.SetCheckpoint(s.cfg.Chain, cp)
}

// Cycle runs one iteration. synced is false when there was nothing to export.
func (s *Streamer) Cycle(ctx context.Context) (bool, error) {
	cp := s.Checkpoint()
	f, err := s.adapter.CurrentBlock(ctx)
	if err != nil {
		s.opts.Metrics.Cycle(s.cfg.Chain, "error")
		return false, fmt.Errorf("current block: %w", err)
	}
	s.opts.Metrics.SetFrontier(s.cfg.Chain, f.Number)

	target, ok := ComputeTarget(f.Number, s.cfg.Lag, cp, s.cfg.BatchSize, s.cfg.EndBlock)
	s.update(func(st *Status) {
		st.Frontier = f.Number
		st.Target = target
	})
	if !ok {
		s.opts.Metrics.Cycle(s.cfg.Chain, "idle")
		s.logger.Debug("Nothing to sync",
			zap.Uint64("frontier", f.Number),
			zap.Int64("checkpoint", cp))
		return false, nil
	}

	start, end := uint64(cp+1), uint64(target)
	if err := s.adapter.ExportAll(ctx, start, end); err != nil {
		s.opts.Metrics.Cycle(s.cfg.Chain, "error")
		return false, &RangeError{Start: start, End: end, Err: err}
	}
	if err := s.checkpoint.Save(target); err != nil {
		s.opts.Metrics.Cycle(s.cfg.Chain, "error")
		return false, fmt.Errorf("save checkpoint %d: %w", target, err)
	}
	s.setCheckpoint(target)
	s.opts.Metrics.Cycle(s.cfg.Chain, "synced")
	s.update(func(st *Status) {
		st.Cycles++
		st.LastError = ""
		st.LastSyncedAt = s.opts.Now().UTC()
	})
	s.logger.Info("Synced range",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
		zap.Uint64("frontier", f.Number))
	return true, nil
}

func (s *Streamer) handleFailure(ctx context.Context, err error) error {
	s.update(func(st *Status) {
		st.Failures++
		st.LastError = err.Error()
	})

	var rangeErr *RangeError
	switch {
	case s.cfg.Policy == PolicyFailFast:
		s.logger.Error("Cycle failed, stopping", zap.Error(err))
		return err
	case s.cfg.Policy == PolicyQuarantine && errors.As(err, &rangeErr):
		return s.quarantine(rangeErr)
	default:
		s.logger.Error("Cycle failed, retrying", zap.Duration("retry_in", s.cfg.RetryInterval), zap.Error(err))
		retry.Sleep(ctx, s.cfg.RetryInterval)
		return nil
	}
}

// quarantine records the failed range and advances past it.
func (s *Streamer) quarantine(rangeErr *RangeError) error {
	rec := QuarantineRecord{
		Chain:      s.cfg.Chain,
		StartBlock: rangeErr.Start,
		EndBlock:   rangeErr.End,
		Error:      rangeErr.Err.Error(),
		At:         s.opts.Now().UTC(),
	}
	if err := s.opts.Quarantine.Append(rec); err != nil {
		return fmt.Errorf("write quarantine record: %w", err)
	}
	if err := s.checkpoint.Save(int64(rangeErr.End)); err != nil {
		return fmt.Errorf("save checkpoint %d: %w", rangeErr.End, err)
	}
	s.setCheckpoint(int64(rangeErr.End))
	s.opts.Metrics.Cycle(s.cfg.Chain, "quarantined")
	s.update(func(st *Status) { st.Quarantined++ })
	s.logger.Warn("Quarantined range",
		zap.Uint64("start", rangeErr.Start),
		zap.Uint64("end", rangeErr.End),
		zap.Error(rangeErr.Err))
	return nil
}
