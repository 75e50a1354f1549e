package chain

import (
	"context"
	"fmt"

	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

func (db *DB) initTransfers(ctx context.Context) error {
	return db.createTable(ctx,
		entities.Transfers.TableName(),
		indexermodels.ColumnsToSchemaSQL(indexermodels.TransferColumns)+",\n\t\t\tINDEX idx_address address TYPE bloom_filter GRANULARITY 4",
		db.Engine(clickhouse.ReplacingMergeTree, "ingested_at"),
		"block_number, item_id",
	)
}

func (db *DB) InsertTransfers(ctx context.Context, transfers []*indexermodels.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	rows := make([][]any, len(transfers))
	for i, t := range transfers {
		rows[i] = t.Values()
	}
	return db.insert(ctx, entities.Transfers.TableName(), indexermodels.TransferColumns, rows)
}

// TransfersInRange loads the value flows of [start, end] ordered by (block, position).
func (db *DB) TransfersInRange(ctx context.Context, start, end uint64) ([]*indexermodels.Transfer, error) {
	query := fmt.Sprintf(`
		SELECT *
		FROM %s FINAL
		WHERE block_number BETWEEN ? AND ?
		ORDER BY block_number, position
	`, db.Table(entities.Transfers.TableName()))

	var out []*indexermodels.Transfer
	if err := db.SelectWithFinal(ctx, &out, query, start, end); err != nil {
		return nil, fmt.Errorf("select transfers [%d,%d]: %w", start, end, err)
	}
	return out, nil
}
