package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/chainetl/chainetl/pkg/db/entities"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Sink mirrors the block-scoped entities into Postgres. Every table is keyed on item_id
// and written with ON CONFLICT DO NOTHING, so replaying a batch has no effect.
type Sink struct {
	Client
}

var sinkTables = []struct {
	entity   entities.Entity
	columns  []indexermodels.ColumnDef
	blockCol string
}{
	{entities.Blocks, indexermodels.BlockColumns, "number"},
	{entities.Transactions, indexermodels.TransactionColumns, "block_number"},
	{entities.Transfers, indexermodels.TransferColumns, "block_number"},
}

func NewSink(client Client) *Sink {
	return &Sink{Client: client}
}

// Open creates the tables when missing.
func (s *Sink) Open(ctx context.Context) error {
	for _, t := range sinkTables {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s
		)`, t.entity.TableName(), indexermodels.ColumnsToPGSchemaSQL(t.columns))
		if err := s.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", t.entity, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)`,
			t.entity.TableName(), t.blockCol, t.entity.TableName(), t.blockCol)
		if err := s.Exec(ctx, idx); err != nil {
			return fmt.Errorf("index %s: %w", t.entity, err)
		}
	}
	return nil
}

// ExportItems writes the batch in one transaction and returns the number of rows offered.
func (s *Sink) ExportItems(ctx context.Context, items *indexermodels.Items) (int, error) {
	if items.Len() == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	queue := func(entity entities.Entity, columns []indexermodels.ColumnDef, values []any) {
		batch.Queue(insertSQL(entity.TableName(), columns), pgValues(values)...)
	}
	for _, t := range items.Transactions {
		queue(entities.Transactions, indexermodels.TransactionColumns, t.Values())
	}
	for _, t := range items.Transfers {
		queue(entities.Transfers, indexermodels.TransferColumns, t.Values())
	}
	for _, b := range items.Blocks {
		queue(entities.Blocks, indexermodels.BlockColumns, b.Values())
	}

	err := s.BeginFunc(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("export %d items to postgres: %w", items.Len(), err)
	}
	return items.Len(), nil
}

// BlockHashes returns the stored hash per block number in [start, end].
func (s *Sink) BlockHashes(ctx context.Context, start, end uint64) (map[uint64]string, error) {
	rows, err := s.Query(ctx, `SELECT number, hash FROM blocks WHERE number BETWEEN $1 AND $2`, int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("query block hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]string)
	for rows.Next() {
		var (
			number int64
			hash   string
		)
		if err := rows.Scan(&number, &hash); err != nil {
			return nil, err
		}
		out[uint64(number)] = hash
	}
	return out, rows.Err()
}

// DeleteAtBlocks removes rows of a block-scoped entity for the given blocks.
func (s *Sink) DeleteAtBlocks(ctx context.Context, entity entities.Entity, blocks []uint64) error {
	if len(blocks) == 0 {
		return nil
	}
	for _, t := range sinkTables {
		if t.entity != entity {
			continue
		}
		nums := make([]int64, len(blocks))
		for i, b := range blocks {
			nums[i] = int64(b)
		}
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ANY($1)`, entity.TableName(), t.blockCol)
		if err := s.Exec(ctx, query, nums); err != nil {
			return fmt.Errorf("delete %s: %w", entity, err)
		}
		s.Logger.Debug("Deleted postgres rows", zap.String("entity", entity.String()), zap.Int("blocks", len(blocks)))
		return nil
	}
	// Entities the mirror does not store have nothing to delete.
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.Client.Close()
	return nil
}

func insertSQL(table string, columns []indexermodels.ColumnDef) string {
	names := indexermodels.ColumnsToNameList(columns)
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if strings.HasPrefix(c.PGType, "NUMERIC") {
			placeholders[i] += "::numeric"
		}
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (item_id) DO NOTHING`,
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
}

// pgValues converts driver-neutral row values into what pgx encodes natively.
func pgValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case *big.Int:
			out[i] = x.String()
		case uint64:
			out[i] = int64(x)
		case uint32:
			out[i] = int64(x)
		case uint8:
			out[i] = int16(x)
		default:
			out[i] = v
		}
	}
	return out
}
