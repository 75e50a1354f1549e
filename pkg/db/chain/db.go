package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/db/entities"
	"go.uber.org/zap"
)

// DB is the per-chain ClickHouse database (chain_<id>). It implements Store.
type DB struct {
	clickhouse.Client
	Name    string
	ChainID string
}

// New connects and creates the chain database and its tables.
func New(ctx context.Context, logger *zap.Logger, chainID string, poolConfig *clickhouse.PoolConfig) (*DB, error) {
	dbName := clickhouse.SanitizeName("chain_" + chainID)

	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", dbName),
		zap.String("chain_id", chainID),
	), dbName, poolConfig)
	if err != nil {
		return nil, err
	}

	chainDB := &DB{
		Client:  client,
		Name:    dbName,
		ChainID: chainID,
	}

	if err := chainDB.InitializeDB(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return chainDB, nil
}

// InitializeDB creates the database and every table concurrently. Safe to call repeatedly.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{entities.Blocks.String(), db.initBlocks},
		{entities.Transactions.String(), db.initTransactions},
		{entities.Transfers.String(), db.initTransfers},
		{entities.Balances.String(), db.initBalances},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.Logger.Info("Chain database initialization complete",
		zap.String("database", db.Name),
		zap.Duration("total_duration", time.Since(initStart)))
	return nil
}

func (db *DB) createTable(ctx context.Context, table, schema, engine, orderBy string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s %s (
			%s
		) ENGINE = %s
		ORDER BY (%s)
	`, db.Table(table), db.OnCluster(), schema, engine, orderBy)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// blockColumn is the column carrying the block number for each entity.
func blockColumn(entity entities.Entity) string {
	if entity == entities.Blocks {
		return "number"
	}
	return "block_number"
}

// DeleteAtBlocks removes every row of entity derived from the given blocks.
// Lightweight DELETE is synchronous on the replica we write to, so a following insert
// never collides with the rows being removed.
func (db *DB) DeleteAtBlocks(ctx context.Context, entity entities.Entity, blocks []uint64) error {
	if !entity.IsValid() {
		return fmt.Errorf("invalid entity: %q", entity)
	}
	if len(blocks) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s %s WHERE %s IN (%s)`,
		db.Table(entity.TableName()), db.OnCluster(), blockColumn(entity), inList(blocks))
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("delete %s at %d blocks: %w", entity, len(blocks), err)
	}

	db.Logger.Debug("Deleted entity rows",
		zap.String("entity", entity.String()),
		zap.Int("blocks", len(blocks)),
		zap.String("database", db.Name))
	return nil
}

func inList(blocks []uint64) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = strconv.FormatUint(b, 10)
	}
	return strings.Join(parts, ", ")
}

// Open satisfies the sink lifecycle; the connection is established in New.
func (db *DB) Open(context.Context) error { return nil }
