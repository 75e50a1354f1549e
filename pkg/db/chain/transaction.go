package chain

import (
	"context"

	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

func (db *DB) initTransactions(ctx context.Context) error {
	return db.createTable(ctx,
		entities.Transactions.TableName(),
		indexermodels.ColumnsToSchemaSQL(indexermodels.TransactionColumns)+",\n\t\t\tINDEX idx_hash hash TYPE bloom_filter GRANULARITY 4",
		db.Engine(clickhouse.ReplacingMergeTree, "ingested_at"),
		"block_number, tx_index, hash",
	)
}

func (db *DB) InsertTransactions(ctx context.Context, txs []*indexermodels.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([][]any, len(txs))
	for i, t := range txs {
		rows[i] = t.Values()
	}
	return db.insert(ctx, entities.Transactions.TableName(), indexermodels.TransactionColumns, rows)
}
