package reorg

import (
	"context"

	"github.com/chainetl/chainetl/pkg/source"
)

// Guard wraps an adapter so every export first reconciles the blocks just behind it.
// Only blocks already stored are checked, so the first export of a fresh deployment
// does not write anything below its start block.
type Guard struct {
	source.BlockSourceAdapter
	reconciler *Reconciler
	lookback   uint64
}

func NewGuard(inner source.BlockSourceAdapter, reconciler *Reconciler, lookback uint64) *Guard {
	return &Guard{BlockSourceAdapter: inner, reconciler: reconciler, lookback: lookback}
}

func (g *Guard) ExportAll(ctx context.Context, start, end uint64) error {
	if g.lookback > 0 && start > 0 {
		from := uint64(0)
		if start > g.lookback {
			from = start - g.lookback
		}
		if _, err := g.reconciler.ReconcileStored(ctx, from, start-1); err != nil {
			return err
		}
	}
	return g.BlockSourceAdapter.ExportAll(ctx, start, end)
}
