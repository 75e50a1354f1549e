// Package stage holds the downstream pipeline stages fed by the work queue.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainetl/chainetl/pkg/balance"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/chainetl/chainetl/pkg/source"
	"go.uber.org/zap"
)

type TransferLoader interface {
	TransfersInRange(ctx context.Context, start, end uint64) ([]*indexermodels.Transfer, error)
}

type BalanceWriter interface {
	InsertBalances(ctx context.Context, balances []*indexermodels.Balance) error
}

// BalanceStage turns a published batch reference into balance snapshots. Each consumer
// owns an engine, and with it a private fetch pool.
type BalanceStage struct {
	Chain  string
	Loader TransferLoader
	Writer BalanceWriter
	Reader balance.SnapshotReader
	Engine balance.EngineOptions
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *BalanceStage) Init(_ context.Context, consumer string) (*balance.Engine, error) {
	if s.Loader == nil || s.Writer == nil || s.Reader == nil {
		return nil, errors.New("balance stage is missing a store")
	}
	opts := s.Engine
	opts.Chain = s.Chain
	opts.Logger = logging.OrNop(s.Logger).With(zap.String("consumer", consumer))
	return balance.NewEngine(s.Reader, opts), nil
}

func (s *BalanceStage) Deinit(e *balance.Engine) {
	if e != nil {
		e.Close()
	}
}

// Handle loads the batch's flows, merges them onto stored snapshots, and writes the
// results stamped with the batch's last block.
func (s *BalanceStage) Handle(ctx context.Context, engine *balance.Engine, startedAt time.Time, unit queue.WorkUnit) error {
	logger := logging.OrNop(s.Logger)
	ref, err := source.DecodeBatchRef(unit.Value)
	if err != nil {
		// Retrying cannot fix a malformed unit.
		logger.Error("Dropping malformed work unit", zap.String("id", unit.ID), zap.Error(err))
		return nil
	}
	if ref.Chain != "" && s.Chain != "" && ref.Chain != s.Chain {
		logger.Warn("Dropping work unit for another chain",
			zap.String("id", unit.ID),
			zap.String("chain", ref.Chain))
		return nil
	}

	transfers, err := s.Loader.TransfersInRange(ctx, ref.Start, ref.End)
	if err != nil {
		return fmt.Errorf("load transfers [%d,%d]: %w", ref.Start, ref.End, err)
	}
	res, err := engine.Run(ctx, balance.FlowsFromTransfers(transfers), ref.End)
	if err != nil {
		return fmt.Errorf("balances [%d,%d]: %w", ref.Start, ref.End, err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ingestedAt := now()
	rows := make([]*indexermodels.Balance, 0, len(res.Snapshots))
	for _, snap := range res.Snapshots {
		rows = append(rows, balance.ToBalance(snap, ingestedAt))
	}
	if len(rows) > 0 {
		if err := s.Writer.InsertBalances(ctx, rows); err != nil {
			return fmt.Errorf("insert balances [%d,%d]: %w", ref.Start, ref.End, err)
		}
	}

	logger.Info("Balances updated",
		zap.Uint64("start", ref.Start),
		zap.Uint64("end", ref.End),
		zap.Int("flows", len(transfers)),
		zap.Int("snapshots", len(rows)),
		zap.Int("excluded", len(res.Excluded)),
		zap.Bool("reclaimed", unit.Reclaimed),
		zap.Duration("took", time.Since(startedAt)))
	return nil
}

// ConsumeOptions wires the stage into queue.Consume.
func (s *BalanceStage) ConsumeOptions(concurrency int) queue.ConsumeOptions[*balance.Engine] {
	return queue.ConsumeOptions[*balance.Engine]{
		Handler:     s.Handle,
		Init:        s.Init,
		Deinit:      s.Deinit,
		Concurrency: concurrency,
	}
}
