package chain

import (
	"context"
	"fmt"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

// ExportItems writes one normalized batch. Blocks go last so a block hash is only visible
// once its transactions and transfers are stored; the reorg reconciler keys off that hash.
func (db *DB) ExportItems(ctx context.Context, items *indexermodels.Items) (int, error) {
	if items == nil {
		return 0, nil
	}
	if err := db.InsertTransactions(ctx, items.Transactions); err != nil {
		return 0, fmt.Errorf("export transactions: %w", err)
	}
	if err := db.InsertTransfers(ctx, items.Transfers); err != nil {
		return 0, fmt.Errorf("export transfers: %w", err)
	}
	if err := db.InsertBlocks(ctx, items.Blocks); err != nil {
		return 0, fmt.Errorf("export blocks: %w", err)
	}
	return items.Len(), nil
}
