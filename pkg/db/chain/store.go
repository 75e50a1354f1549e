package chain

import (
	"context"

	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

// Store describes the per-chain database operations used by the streamer sink, the reorg
// reconciler and the balance stage.
type Store interface {
	InitializeDB(ctx context.Context) error

	// --- Sink

	Open(ctx context.Context) error
	ExportItems(ctx context.Context, items *indexermodels.Items) (int, error)
	Close() error

	// --- Entity writes

	InsertBlocks(ctx context.Context, blocks []*indexermodels.Block) error
	InsertTransactions(ctx context.Context, txs []*indexermodels.Transaction) error
	InsertTransfers(ctx context.Context, transfers []*indexermodels.Transfer) error
	InsertBalances(ctx context.Context, balances []*indexermodels.Balance) error

	// --- Reads

	BlockHashes(ctx context.Context, start, end uint64) (map[uint64]string, error)
	TransfersInRange(ctx context.Context, start, end uint64) ([]*indexermodels.Transfer, error)
	LatestBalance(ctx context.Context, address, contract, subID string, atOrBefore uint64) (*indexermodels.Balance, error)

	// --- Repair

	DeleteAtBlocks(ctx context.Context, entity entities.Entity, blocks []uint64) error
}

var _ Store = (*DB)(nil)
