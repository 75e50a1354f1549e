package balancer

import (
	"context"
	"errors"
	"time"

	"github.com/chainetl/chainetl/pkg/balance"
	"github.com/chainetl/chainetl/pkg/db/chain"
	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/chainetl/chainetl/pkg/redis"
	"github.com/chainetl/chainetl/pkg/stage"
	"github.com/chainetl/chainetl/pkg/status"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App drains the balance queue of one chain.
type App struct {
	Config *Config

	ChainDB     *chain.DB
	RedisClient *redis.Client
	Queue       *queue.Queue
	Stage       *stage.BalanceStage

	Status *status.Server
	Logger *zap.Logger

	startedAt time.Time
}

// Initialize connects ClickHouse and Redis and makes sure the consumer group exists.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New("balancer")
	if err != nil {
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("chain_id", cfg.ChainID))

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	db, err := chain.New(ctx, logger, cfg.ChainID, clickhouse.GetPoolConfigForComponent("balancer"))
	if err != nil {
		return nil, err
	}

	rdb, err := redis.NewClient(ctx, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	q, err := queue.New(rdb, cfg.Queue, logger, m)
	if err == nil {
		err = q.EnsureGroup(ctx)
	}
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, err
	}

	app := &App{
		Config:      cfg,
		ChainDB:     db,
		RedisClient: rdb,
		Queue:       q,
		Stage: &stage.BalanceStage{
			Chain:  cfg.ChainID,
			Loader: db,
			Writer: db,
			Reader: balance.StoreReader{Loader: db},
			Engine: balance.EngineOptions{
				Options: balance.Options{TrackFees: cfg.TrackFees},
				Workers: cfg.FetchWorkers,
				Timeout: cfg.FetchTimeout,
				Metrics: m,
			},
			Logger: logger,
		},
		Status: status.New(cfg.StatusAddr, registry, logger),
		Logger: logger,
	}
	app.Status.Register("balancer", status.ReporterFunc(app.report))
	return app, nil
}

func (a *App) report() any {
	redisStatus := "ok"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.RedisClient.Health(ctx); err != nil {
		redisStatus = err.Error()
	}
	return map[string]any{
		"redis":       redisStatus,
		"chain":       a.Config.ChainID,
		"stream":      a.Queue.Stream(),
		"group":       a.Queue.Group(),
		"concurrency": a.Config.Concurrency,
		"track_fees":  a.Config.TrackFees,
		"started_at":  a.startedAt,
	}
}

// Start consumes until ctx is cancelled, then closes every connection.
func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now().UTC()
	a.Status.Start()

	err := queue.Consume(ctx, a.Queue, a.Stage.ConsumeOptions(a.Config.Concurrency))
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := a.Status.Shutdown(shutdownCtx); shutdownErr != nil {
		a.Logger.Warn("Status server shutdown", zap.Error(shutdownErr))
	}
	if closeErr := errors.Join(a.RedisClient.Close(), a.ChainDB.Close()); closeErr != nil {
		a.Logger.Warn("Close failed", zap.Error(closeErr))
	}
	a.Logger.Info("Balancer stopped")
	_ = a.Logger.Sync()
	return err
}
