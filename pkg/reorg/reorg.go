// Package reorg detects blocks whose stored identity no longer matches the canonical
// chain and re-derives every block-scoped row for them.
package reorg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"github.com/chainetl/chainetl/pkg/source"
	"go.uber.org/zap"
)

// Store is the local view being repaired.
type Store interface {
	BlockHashes(ctx context.Context, start, end uint64) (map[uint64]string, error)
	DeleteAtBlocks(ctx context.Context, entity entities.Entity, blocks []uint64) error
	ExportItems(ctx context.Context, items *indexermodels.Items) (int, error)
}

// Divergence is one block whose stored hash is stale or missing.
type Divergence struct {
	Block  uint64
	Fresh  string
	Stored string // empty when the block is missing locally
}

type Report struct {
	Start     uint64
	End       uint64
	Checked   int
	Divergent []Divergence
	Inserted  int
}

type Options struct {
	Chain string
	// Entities are the tables repaired per divergent block. Defaults to the block-scoped set.
	Entities []entities.Entity
	// Lookback caps how many blocks below the range end are compared. Zero means no cap.
	Lookback uint64
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Reconciler struct {
	fetcher source.Fetcher
	store   Store
	opts    Options
	logger  *zap.Logger
}

func NewReconciler(fetcher source.Fetcher, store Store, opts Options) *Reconciler {
	if len(opts.Entities) == 0 {
		opts.Entities = entities.BlockScoped()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{fetcher: fetcher, store: store, opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Window clamps [a, b] to the lookback below b.
func (r *Reconciler) Window(a, b uint64) (uint64, uint64) {
	if r.opts.Lookback > 0 && b-a+1 > r.opts.Lookback {
		a = b - r.opts.Lookback + 1
	}
	return a, b
}

// Diff lists blocks of fresh whose hash differs from stored or is absent there.
func Diff(fresh, stored map[uint64]string) []Divergence {
	var out []Divergence
	for block, hash := range fresh {
		if have, ok := stored[block]; !ok || have != hash {
			out = append(out, Divergence{Block: block, Fresh: hash, Stored: have})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Block < out[j].Block })
	return out
}

// Reconcile compares [a, b] with the canonical chain and repairs divergent blocks. Rows
// for a divergent block are deleted in every entity before fresh rows are written, and
// block identities are written last, so a crash mid-repair leaves the block divergent and
// the next run repeats the repair.
func (r *Reconciler) Reconcile(ctx context.Context, a, b uint64) (*Report, error) {
	return r.reconcile(ctx, a, b, false)
}

// ReconcileStored is Reconcile limited to blocks at or above the lowest block stored in
// the window. Blocks below it were never synced here and are not backfilled. A window
// with nothing stored is reported clean.
func (r *Reconciler) ReconcileStored(ctx context.Context, a, b uint64) (*Report, error) {
	return r.reconcile(ctx, a, b, true)
}

func (r *Reconciler) reconcile(ctx context.Context, a, b uint64, storedOnly bool) (*Report, error) {
	if b < a {
		return nil, fmt.Errorf("invalid range [%d,%d]", a, b)
	}
	a, b = r.Window(a, b)

	stored, err := r.store.BlockHashes(ctx, a, b)
	if err != nil {
		r.opts.Metrics.Reorg(r.opts.Chain, "error", 0)
		return nil, fmt.Errorf("load stored hashes [%d,%d]: %w", a, b, err)
	}
	if storedOnly {
		if len(stored) == 0 {
			r.opts.Metrics.Reorg(r.opts.Chain, "clean", 0)
			return &Report{Start: a, End: b}, nil
		}
		a = lowest(stored)
	}
	report := &Report{Start: a, End: b}

	fresh, err := r.fetcher.FetchRange(ctx, a, b)
	if err != nil {
		r.opts.Metrics.Reorg(r.opts.Chain, "error", 0)
		return nil, fmt.Errorf("fetch canonical [%d,%d]: %w", a, b, err)
	}

	freshHashes := fresh.BlockHashes()
	report.Checked = len(freshHashes)
	report.Divergent = Diff(freshHashes, stored)
	if len(report.Divergent) == 0 {
		r.opts.Metrics.Reorg(r.opts.Chain, "clean", 0)
		return report, nil
	}

	blocks := make([]uint64, 0, len(report.Divergent))
	set := make(map[uint64]struct{}, len(report.Divergent))
	for _, d := range report.Divergent {
		blocks = append(blocks, d.Block)
		set[d.Block] = struct{}{}
	}
	r.logger.Warn("Divergent blocks detected",
		zap.Uint64("start", a),
		zap.Uint64("end", b),
		zap.Uint64s("blocks", blocks))

	items := fresh.Filter(set)
	items.Stamp(r.opts.Now())

	for _, entity := range r.opts.Entities {
		if err := r.store.DeleteAtBlocks(ctx, entity, blocks); err != nil {
			r.opts.Metrics.Reorg(r.opts.Chain, "error", len(blocks))
			return nil, fmt.Errorf("delete %s: %w", entity, err)
		}
	}
	n, err := r.store.ExportItems(ctx, items)
	if err != nil {
		r.opts.Metrics.Reorg(r.opts.Chain, "error", len(blocks))
		return nil, fmt.Errorf("insert repaired rows: %w", err)
	}
	report.Inserted = n
	r.opts.Metrics.Reorg(r.opts.Chain, "repaired", len(blocks))
	r.logger.Info("Repaired divergent blocks", zap.Int("blocks", len(blocks)), zap.Int("rows", n))
	return report, nil
}

func lowest(blocks map[uint64]string) uint64 {
	first := true
	var lo uint64
	for n := range blocks {
		if first || n < lo {
			lo, first = n, false
		}
	}
	return lo
}

// MultiStore repairs several stores together. Hashes come from the first; deletes and
// inserts go to all of them.
type MultiStore []Store

func (m MultiStore) BlockHashes(ctx context.Context, start, end uint64) (map[uint64]string, error) {
	if len(m) == 0 {
		return nil, errors.New("no stores")
	}
	return m[0].BlockHashes(ctx, start, end)
}

func (m MultiStore) DeleteAtBlocks(ctx context.Context, entity entities.Entity, blocks []uint64) error {
	for i, s := range m {
		if err := s.DeleteAtBlocks(ctx, entity, blocks); err != nil {
			return fmt.Errorf("store %d: %w", i, err)
		}
	}
	return nil
}

func (m MultiStore) ExportItems(ctx context.Context, items *indexermodels.Items) (int, error) {
	n := 0
	for i, s := range m {
		written, err := s.ExportItems(ctx, items)
		if err != nil {
			return 0, fmt.Errorf("store %d: %w", i, err)
		}
		if i == 0 {
			n = written
		}
	}
	return n, nil
}
