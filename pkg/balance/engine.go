package balance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrPriorFetch wraps any failure loading prior snapshots. The whole batch fails with it.
var ErrPriorFetch = errors.New("prior snapshot fetch failed")

// SnapshotReader loads the most recent stored snapshot at or below atOrBefore. It returns
// nil, nil when there is none.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, address string, token Token, atOrBefore uint64) (*Snapshot, error)
}

type EngineOptions struct {
	Options
	Chain   string
	Workers int
	// Timeout bounds the whole prior-snapshot fan-out of one batch.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Result struct {
	Snapshots []*Snapshot
	// Excluded are series whose stored snapshot is already at or past the target,
	// meaning a newer batch got there first.
	Excluded []Key
}

type Engine struct {
	reader SnapshotReader
	pool   pond.Pool
	opts   EngineOptions
	logger *zap.Logger
}

func NewEngine(reader SnapshotReader, opts EngineOptions) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Engine{
		reader: reader,
		pool:   pond.NewPool(opts.Workers),
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}
}

func (e *Engine) Close() {
	e.pool.StopAndWait()
}

// Run aggregates flows, fetches the newest stored snapshot per series, drops series a
// batch at or past target already covered, and merges the rest onto what was stored.
func (e *Engine) Run(ctx context.Context, flows []ValueFlow, target uint64) (*Result, error) {
	batch := Aggregate(flows, target, e.opts.Options)
	if len(batch) == 0 {
		return &Result{}, nil
	}

	began := time.Now()
	priors, err := e.fetchPriors(ctx, batch)
	if err != nil {
		return nil, err
	}

	res := &Result{Snapshots: make([]*Snapshot, 0, len(batch))}
	for _, s := range batch {
		prior, ok := priors.Load(s.Key())
		if ok && prior.Block >= target {
			res.Excluded = append(res.Excluded, s.Key())
			continue
		}
		res.Snapshots = append(res.Snapshots, Merge(prior, s))
	}

	e.opts.Metrics.Balances(e.opts.Chain, len(res.Snapshots), len(res.Excluded), time.Since(began))
	if len(res.Excluded) > 0 {
		e.logger.Info("Skipped series already advanced by a newer batch",
			zap.Uint64("target", target),
			zap.Int("excluded", len(res.Excluded)))
	}
	return res, nil
}

// fetchPriors reads each series without an upper bound. A stored block at or past the
// target marks a lost race; anything lower is the prior to merge onto.
func (e *Engine) fetchPriors(ctx context.Context, batch []*Snapshot) (*xsync.Map[Key, *Snapshot], error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	priors := xsync.NewMap[Key, *Snapshot]()
	group := e.pool.NewGroupContext(fetchCtx)
	groupCtx := group.Context()
	for _, s := range batch {
		key := s.Key()
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			prior, err := e.reader.LatestSnapshot(groupCtx, key.Address, key.Token, math.MaxUint64)
			if err != nil {
				return fmt.Errorf("%s/%s/%s: %w", key.Address, key.Token.Contract, key.Token.SubID, err)
			}
			if prior != nil {
				priors.Store(key, prior)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if ctxErr := fetchCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrPriorFetch, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrPriorFetch, err)
	}
	return priors, nil
}
