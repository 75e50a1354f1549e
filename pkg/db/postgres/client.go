package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chainetl/chainetl/pkg/retry"
	"github.com/chainetl/chainetl/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Client is a pgx pool bound to one mirror database.
type Client struct {
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Database string
}

type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Component       string
}

// New connects to POSTGRES_URL, creates dbName there when missing and returns a pool
// on dbName. Connection attempts are retried with backoff for up to five minutes.
func New(ctx context.Context, logger *zap.Logger, dbName string, poolConfig ...*PoolConfig) (Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbURL := utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres")
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse POSTGRES_URL: %w", err)
	}

	poolConf := GetPoolConfigForComponent("unknown")
	if len(poolConfig) > 0 && poolConfig[0] != nil {
		poolConf = poolConfig[0]
	}
	config.MinConns = poolConf.MinConns
	config.MaxConns = poolConf.MaxConns
	config.MaxConnLifetime = poolConf.ConnMaxLifetime
	config.MaxConnIdleTime = poolConf.ConnMaxIdleTime

	client := Client{Logger: logger, Database: dbName}
	err = retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		if err := createDatabase(connCtx, config.ConnConfig.Copy(), dbName, logger); err != nil {
			return err
		}

		target := config.Copy()
		target.ConnConfig.Database = dbName
		pool, err := pgxpool.NewWithConfig(connCtx, target)
		if err != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", err)
		}
		if err := pool.Ping(connCtx); err != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", err)
		}
		client.Pool = pool
		return nil
	})
	if err != nil {
		return Client{}, err
	}

	logger.Info("PostgreSQL connection pool configured",
		zap.String("database", dbName),
		zap.String("component", poolConf.Component),
		zap.Int32("min_conns", poolConf.MinConns),
		zap.Int32("max_conns", poolConf.MaxConns),
	)
	return client, nil
}

// createDatabase runs on the maintenance database named in POSTGRES_URL, since a pool
// cannot be opened on a database that does not exist yet.
func createDatabase(ctx context.Context, admin *pgx.ConnConfig, dbName string, logger *zap.Logger) error {
	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return fmt.Errorf("connect to maintenance database: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if exists {
		return nil
	}
	logger.Info("Creating database", zap.String("database", dbName))
	// CREATE DATABASE takes no parameters.
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.Pool.Exec(ctx, query, args...)
	return err
}

// Query returns rows the caller must close.
func (c *Client) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return c.Pool.Query(ctx, query, args...)
}

// BeginFunc runs fn in a transaction, committing when fn returns nil.
func (c *Client) BeginFunc(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.Pool, fn)
}

func (c *Client) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// GetPoolConfigForComponent returns pool sizing per process role.
func GetPoolConfigForComponent(component string) *PoolConfig {
	conf := &PoolConfig{
		MinConns:        2,
		MaxConns:        20,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		Component:       component,
	}
	switch component {
	case "streamer":
		conf.MaxConns = 10
	case "reconciler":
		conf.MinConns, conf.MaxConns = 1, 4
	}
	return conf
}
