package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chainetl/chainetl/pkg/checkpoint"
	"github.com/chainetl/chainetl/pkg/db/chain"
	"github.com/chainetl/chainetl/pkg/db/clickhouse"
	"github.com/chainetl/chainetl/pkg/db/postgres"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/metrics"
	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/chainetl/chainetl/pkg/redis"
	"github.com/chainetl/chainetl/pkg/reorg"
	"github.com/chainetl/chainetl/pkg/rpc"
	"github.com/chainetl/chainetl/pkg/source"
	"github.com/chainetl/chainetl/pkg/status"
	streaming "github.com/chainetl/chainetl/pkg/streamer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// App owns one chain's streamer and everything it writes to.
type App struct {
	Config *Config

	// Stores, in SINK order. The first one serves reorg hash lookups.
	ChainDB  *chain.DB
	Postgres *postgres.Sink

	// Redis backs the balance queue and the liveness marker. Nil when publishing is off.
	RedisClient *redis.Client
	Queue       *queue.Queue

	Adapter    source.BlockSourceAdapter
	Reconciler *reorg.Reconciler
	Streamer   *streaming.Streamer

	// Cron runs the periodic reorg sweep behind the checkpoint when REORG_CRON is set.
	Cron *cron.Cron

	Status *status.Server

	Logger *zap.Logger

	// sinks are closed by the adapter when the streamer stops; closers are everything else.
	sinks   source.MultiSink
	closers []io.Closer

	mu         sync.Mutex
	lastReport *reorg.Report
	lastErr    string
}

// Initialize connects every dependency and builds the streamer.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New("streamer")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("chain_id", cfg.ChainID))

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	app := &App{
		Config: cfg,
		Status: status.New(cfg.StatusAddr, registry, logger),
		Logger: logger,
	}
	if err := app.setup(ctx, m); err != nil {
		if closeErr := app.sinks.Close(); closeErr != nil {
			logger.Warn("Close sinks", zap.Error(closeErr))
		}
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *App) setup(ctx context.Context, m *metrics.Metrics) error {
	cfg := a.Config

	var stores reorg.MultiStore
	for _, name := range cfg.Sinks {
		switch name {
		case SinkClickHouse:
			db, err := chain.New(ctx, a.Logger, cfg.ChainID, clickhouse.GetPoolConfigForComponent("streamer"))
			if err != nil {
				return fmt.Errorf("clickhouse: %w", err)
			}
			a.ChainDB = db
			a.sinks = append(a.sinks, db)
			stores = append(stores, db)
		case SinkPostgres:
			client, err := postgres.New(ctx, a.Logger, clickhouse.SanitizeName("chain_"+cfg.ChainID),
				postgres.GetPoolConfigForComponent("streamer"))
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			a.Postgres = postgres.NewSink(client)
			a.sinks = append(a.sinks, a.Postgres)
			stores = append(stores, a.Postgres)
		}
	}

	var publisher source.Publisher
	if cfg.PublishPipeline != "" {
		rdb, err := redis.NewClient(ctx, a.Logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.RedisClient = rdb
		a.closers = append(a.closers, rdb)

		q, err := queue.New(rdb, queue.Config{
			Pipeline: cfg.PublishPipeline,
			Stage:    cfg.PublishStage,
		}, a.Logger, m)
		if err != nil {
			return err
		}
		// The group has to exist before the first publish, or a balancer that starts
		// later would begin at the tail and skip those units.
		if err := q.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("ensure group %s: %w", q.Group(), err)
		}
		a.Queue = q
		publisher = q
	}

	caller := rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints: cfg.RPCEndpoints,
		RPS:       cfg.RPCRPS,
		Logger:    a.Logger,
	})
	opts := source.Options{
		Chain:           cfg.ChainID,
		Sink:            a.sinks,
		Publisher:       publisher,
		Workers:         cfg.ExportWorkers,
		AllowIncomplete: cfg.AllowIncomplete,
		Logger:          a.Logger,
		Metrics:         m,
	}

	var (
		adapter source.BlockSourceAdapter
		fetcher source.Fetcher
	)
	switch cfg.ChainKind {
	case ChainKindAccount:
		acc := source.NewAccountChainAdapter(rpc.NewAccountNode(caller), opts)
		adapter, fetcher = acc, acc
	default:
		utxo := source.NewUTXOChainAdapter(rpc.NewUTXONode(caller), opts)
		adapter, fetcher = utxo, utxo
	}

	if cfg.ReorgLookback > 0 {
		a.Reconciler = reorg.NewReconciler(fetcher, stores, reorg.Options{
			Chain:    cfg.ChainID,
			Entities: cfg.ReorgEntities,
			Lookback: cfg.ReorgLookback,
			Logger:   a.Logger,
			Metrics:  m,
		})
		adapter = reorg.NewGuard(adapter, a.Reconciler, cfg.ReorgLookback)
		a.Logger.Info("Reorg guard enabled",
			zap.Uint64("lookback", cfg.ReorgLookback),
			zap.String("hash_source", cfg.Primary()))
	}
	a.Adapter = adapter

	streamerOpts := streaming.Options{
		// The sweep shares the adapter's pool and sinks, so it is drained before they close.
		BeforeClose: a.stopCron,
		Logger:      a.Logger,
		Metrics:     m,
	}
	if cfg.QuarantinePath != "" {
		ql, closer := streaming.NewRotatingQuarantineLog(cfg.QuarantinePath)
		a.closers = append(a.closers, closer)
		streamerOpts.Quarantine = ql
	}
	if a.RedisClient != nil {
		host, _ := os.Hostname()
		owner := fmt.Sprintf("%s:%d", host, os.Getpid())
		streamerOpts.Marker = a.RedisClient.NewLivenessMarker("streamer:"+cfg.ChainID+":live", owner, cfg.MarkerTTL)
	}

	s, err := streaming.New(cfg.Streamer, adapter, checkpoint.NewFile(cfg.CheckpointPath), streamerOpts)
	if err != nil {
		return err
	}
	a.Streamer = s

	a.Status.Register("streamer", s)
	if a.Reconciler != nil {
		a.Status.Register("reorg", status.ReporterFunc(a.reorgStatus))
	}

	if cfg.ReorgCron != "" {
		if err := a.SetupScheduler(ctx, cron.DefaultLogger, cfg.ReorgCron); err != nil {
			return fmt.Errorf("reorg cron: %w", err)
		}
	}
	return nil
}

// SetupScheduler registers the reorg sweep. Each tick re-checks the lookback window
// ending at the current checkpoint.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := a.SweepOnce(rctx); err != nil {
			a.Logger.Warn("Reorg sweep failed", zap.Error(err))
		}
	})
	return err
}

// SweepOnce reconciles the stored blocks of [checkpoint-lookback+1, checkpoint]. It is a
// no-op before the first block has been synced.
func (a *App) SweepOnce(ctx context.Context) error {
	if a.Reconciler == nil {
		return nil
	}
	cp := a.Streamer.Checkpoint()
	if cp < 0 {
		return nil
	}
	report, err := a.Reconciler.ReconcileStored(ctx, 0, uint64(cp))

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastErr = err.Error()
		return err
	}
	a.lastReport, a.lastErr = report, ""
	return nil
}

func (a *App) reorgStatus() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"lookback":    a.Config.ReorgLookback,
		"last_report": a.lastReport,
		"last_error":  a.lastErr,
	}
}

// Start serves status, runs the streamer until ctx is cancelled or the end block is
// reached, then releases everything. The returned error is the streamer's.
func (a *App) Start(ctx context.Context) error {
	a.Status.Start()
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Reorg cron started", zap.String("cronSpec", a.Config.ReorgCron))
	}

	runErr := a.Streamer.Run(ctx)
	if runErr != nil {
		a.Logger.Error("Streamer stopped", zap.Error(runErr))
	}

	a.stopCron()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Status.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("Status server shutdown", zap.Error(err))
	}
	a.close()
	_ = a.Logger.Sync()
	return runErr
}

func (a *App) stopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

func (a *App) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("Close failed", zap.Error(err))
	}
}
