package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

func (db *DB) initBlocks(ctx context.Context) error {
	return db.createTable(ctx,
		entities.Blocks.TableName(),
		indexermodels.ColumnsToSchemaSQL(indexermodels.BlockColumns)+",\n\t\t\tINDEX idx_timestamp timestamp TYPE minmax GRANULARITY 8192",
		db.Engine(clickhouse.ReplacingMergeTree, "ingested_at"),
		"number",
	)
}

// InsertBlocks appends blocks in one batch.
func (db *DB) InsertBlocks(ctx context.Context, blocks []*indexermodels.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	rows := make([][]any, len(blocks))
	for i, b := range blocks {
		rows[i] = b.Values()
	}
	return db.insert(ctx, entities.Blocks.TableName(), indexermodels.BlockColumns, rows)
}

// BlockHashes returns the stored hash per block number in [start, end]. Blocks never
// stored are simply absent from the map.
func (db *DB) BlockHashes(ctx context.Context, start, end uint64) (map[uint64]string, error) {
	query := fmt.Sprintf(`
		SELECT number, hash
		FROM %s FINAL
		WHERE number BETWEEN ? AND ?
	`, db.Table(entities.Blocks.TableName()))

	rows, err := db.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query block hashes [%d,%d]: %w", start, end, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uint64]string, end-start+1)
	for rows.Next() {
		var (
			number uint64
			hash   string
		)
		if err := rows.Scan(&number, &hash); err != nil {
			return nil, err
		}
		out[number] = hash
	}
	return out, rows.Err()
}

// insert writes rows through one prepared batch. Column order comes from the ColumnDef list.
func (db *DB) insert(ctx context.Context, table string, columns []indexermodels.ColumnDef, rows [][]any) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES`,
		db.Table(table), strings.Join(indexermodels.ColumnsToNameList(columns), ", "))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send %s batch: %w", table, err)
	}
	return nil
}
