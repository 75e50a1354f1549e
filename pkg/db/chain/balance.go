package chain

import (
	"context"
	"fmt"

	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

func (db *DB) initBalances(ctx context.Context) error {
	return db.createTable(ctx,
		entities.Balances.TableName(),
		indexermodels.ColumnsToSchemaSQL(indexermodels.BalanceColumns),
		db.Engine(clickhouse.ReplacingMergeTree, "ingested_at"),
		"address, contract, sub_id, block_number",
	)
}

func (db *DB) InsertBalances(ctx context.Context, balances []*indexermodels.Balance) error {
	if len(balances) == 0 {
		return nil
	}
	rows := make([][]any, len(balances))
	for i, b := range balances {
		rows[i] = b.Values()
	}
	return db.insert(ctx, entities.Balances.TableName(), indexermodels.BalanceColumns, rows)
}

// LatestBalance returns the highest snapshot at or below atOrBefore, or nil when the
// address has none yet.
func (db *DB) LatestBalance(ctx context.Context, address, contract, subID string, atOrBefore uint64) (*indexermodels.Balance, error) {
	query := fmt.Sprintf(`
		SELECT *
		FROM %s FINAL
		WHERE address = ? AND contract = ? AND sub_id = ? AND block_number <= ?
		ORDER BY block_number DESC
		LIMIT 1
	`, db.Table(entities.Balances.TableName()))

	var out []*indexermodels.Balance
	if err := db.SelectWithFinal(ctx, &out, query, address, contract, subID, atOrBefore); err != nil {
		return nil, fmt.Errorf("latest balance %s/%s: %w", address, contract, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}
