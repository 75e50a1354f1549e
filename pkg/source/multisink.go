package source

import (
	"context"
	"errors"
	"fmt"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

// MultiSink writes every batch to each sink in order. Each sink must be idempotent on
// item_id: a failure in the second sink makes the caller retry the whole batch, which
// replays it into the first.
type MultiSink []ItemSink

func (m MultiSink) Open(ctx context.Context) error {
	for i, s := range m {
		if err := s.Open(ctx); err != nil {
			return fmt.Errorf("open sink %d: %w", i, err)
		}
	}
	return nil
}

func (m MultiSink) ExportItems(ctx context.Context, items *indexermodels.Items) (int, error) {
	n := 0
	for i, s := range m {
		written, err := s.ExportItems(ctx, items)
		if err != nil {
			return 0, fmt.Errorf("sink %d: %w", i, err)
		}
		if i == 0 {
			n = written
		}
	}
	return n, nil
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
