package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"go.uber.org/zap"
)

// Options configures the shared export path of both chain adapters.
type Options struct {
	Chain     string
	Sink      ItemSink
	Publisher Publisher // optional
	Workers   int
	QueueSize int
	// AllowIncomplete downgrades consistency mismatches to warnings for chains whose
	// nodes are known to under-report.
	AllowIncomplete bool
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// blockFetcher fetches and normalizes one block. expected is the transaction count the
// node claims for the block.
type blockFetcher func(ctx context.Context, number uint64) (items *indexermodels.Items, expected int, err error)

type exporter struct {
	opts   Options
	pool   pond.Pool
	logger *zap.Logger
	fetch  blockFetcher
}

func newExporter(opts Options, fetch blockFetcher) exporter {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return exporter{
		opts:   opts,
		pool:   pond.NewPool(opts.Workers, pond.WithQueueSize(opts.QueueSize)),
		logger: logging.OrNop(opts.Logger),
		fetch:  fetch,
	}
}

func (e *exporter) open(ctx context.Context) error {
	if e.opts.Sink == nil {
		return errors.New("no item sink configured")
	}
	return e.opts.Sink.Open(ctx)
}

func (e *exporter) close() error {
	e.pool.StopAndWait()
	if e.opts.Sink == nil {
		return nil
	}
	return e.opts.Sink.Close()
}

// FetchRange fetches every block of [start, end] on the worker pool and returns the
// normalized, stamped records. Any block failure fails the whole range.
func (e *exporter) FetchRange(ctx context.Context, start, end uint64) (*indexermodels.Items, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range [%d,%d]", start, end)
	}
	n := int(end - start + 1)
	perBlock := make([]*indexermodels.Items, n)
	expected := make([]int, n)

	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := 0; i < n; i++ {
		idx := i
		number := start + uint64(i)
		group.SubmitErr(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			items, want, err := e.fetch(groupCtx, number)
			if err != nil {
				return fmt.Errorf("block %d: %w", number, err)
			}
			perBlock[idx] = items
			expected[idx] = want
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, pond.ErrGroupStopped) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	out := &indexermodels.Items{}
	for i, items := range perBlock {
		if err := e.checkConsistency(start+uint64(i), items, expected[i]); err != nil {
			return nil, err
		}
		out.Append(items)
	}
	out.Stamp(e.opts.Now())
	return out, nil
}

func (e *exporter) checkConsistency(number uint64, items *indexermodels.Items, expected int) error {
	actual := 0
	if items != nil {
		actual = len(items.Transactions)
	}
	if actual == expected {
		return nil
	}
	err := &ConsistencyError{Block: number, Entity: entities.Transactions.String(), Expected: expected, Actual: actual}
	if e.opts.AllowIncomplete {
		e.opts.Metrics.ConsistencyMismatch(e.opts.Chain, "warn")
		e.logger.Warn("Row count mismatch tolerated", zap.Error(err))
		return nil
	}
	e.opts.Metrics.ConsistencyMismatch(e.opts.Chain, "fail")
	return err
}

// exportAll fetches, sinks and publishes [start, end].
func (e *exporter) exportAll(ctx context.Context, start, end uint64) error {
	began := time.Now()
	items, err := e.FetchRange(ctx, start, end)
	if err != nil {
		return err
	}

	written, err := e.opts.Sink.ExportItems(ctx, items)
	if err != nil {
		return fmt.Errorf("sink [%d,%d]: %w", start, end, err)
	}
	took := time.Since(began)
	e.opts.Metrics.Exported(e.opts.Chain, entities.Blocks.String(), len(items.Blocks), took)
	e.opts.Metrics.Exported(e.opts.Chain, entities.Transactions.String(), len(items.Transactions), 0)
	e.opts.Metrics.Exported(e.opts.Chain, entities.Transfers.String(), len(items.Transfers), 0)

	if e.opts.Publisher != nil {
		ref := BatchRef{Chain: e.opts.Chain, Start: start, End: end}
		value, err := ref.Encode()
		if err != nil {
			return err
		}
		published, err := e.opts.Publisher.Publish(ctx, ref.Key(), value)
		if err != nil {
			return fmt.Errorf("publish [%d,%d]: %w", start, end, err)
		}
		if !published {
			e.logger.Debug("Batch already published within dedupe window", zap.String("key", ref.Key()))
		}
	}

	e.logger.Info("Exported range",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
		zap.Int("items", written),
		zap.Duration("took", took))
	return nil
}
