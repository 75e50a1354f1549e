package stage

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/chainetl/chainetl/pkg/balance"
	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/chainetl/chainetl/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryStore struct {
	mu        sync.Mutex
	transfers []*indexermodels.Transfer
	balances  []*indexermodels.Balance
	loadErr   error
}

func (m *memoryStore) TransfersInRange(_ context.Context, start, end uint64) ([]*indexermodels.Transfer, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []*indexermodels.Transfer
	for _, t := range m.transfers {
		if t.BlockNumber >= start && t.BlockNumber <= end {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryStore) InsertBalances(_ context.Context, rows []*indexermodels.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = append(m.balances, rows...)
	return nil
}

func (m *memoryStore) LatestBalance(_ context.Context, address, contract, subID string, atOrBefore uint64) (*indexermodels.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *indexermodels.Balance
	for _, b := range m.balances {
		if b.Address == address && b.Contract == contract && b.SubID == subID && b.BlockNumber <= atOrBefore {
			if best == nil || b.BlockNumber > best.BlockNumber {
				best = b
			}
		}
	}
	return best, nil
}

func transfer(addr, dir string, value int64, block uint64) *indexermodels.Transfer {
	return &indexermodels.Transfer{
		BlockNumber: block, TxHash: "tx", Address: addr, Direction: dir,
		Value: big.NewInt(value), Fee: new(big.Int),
	}
}

func unit(t *testing.T, ref source.BatchRef) queue.WorkUnit {
	value, err := ref.Encode()
	require.NoError(t, err)
	return queue.WorkUnit{Message: queue.Message{ID: "1-0", Key: ref.Key(), Value: value}}
}

func newStage(t *testing.T, store *memoryStore) *BalanceStage {
	return &BalanceStage{
		Chain:  "btc",
		Loader: store,
		Writer: store,
		Reader: balance.StoreReader{Loader: store},
		Engine: balance.EngineOptions{Workers: 2, Timeout: time.Second},
		Logger: zaptest.NewLogger(t),
		Now:    func() time.Time { return time.Unix(1, 0) },
	}
}

func TestBalanceStageScenarios(t *testing.T) {
	store := &memoryStore{transfers: []*indexermodels.Transfer{
		transfer("A", indexermodels.DirectionInbound, 50, 101),
		transfer("A", indexermodels.DirectionOutbound, 20, 103),
		transfer("A", indexermodels.DirectionInbound, 10, 107),
	}}
	s := newStage(t, store)
	ctx := context.Background()
	engine, err := s.Init(ctx, "btc:balances:w-0")
	require.NoError(t, err)
	defer s.Deinit(engine)

	require.NoError(t, s.Handle(ctx, engine, time.Now(), unit(t, source.BatchRef{Chain: "btc", Start: 100, End: 105})))
	require.Len(t, store.balances, 1)
	first := store.balances[0]
	assert.Equal(t, uint64(105), first.BlockNumber)
	assert.Equal(t, "30", first.CumulativeValue.String())
	assert.Equal(t, uint64(101), *first.FirstInboundBlock)
	assert.Equal(t, uint64(103), *first.LastOutboundBlock)

	require.NoError(t, s.Handle(ctx, engine, time.Now(), unit(t, source.BatchRef{Chain: "btc", Start: 106, End: 110})))
	require.Len(t, store.balances, 2)
	second := store.balances[1]
	assert.Equal(t, uint64(110), second.BlockNumber)
	assert.Equal(t, "60", second.InboundValue.String())
	assert.Equal(t, "20", second.OutboundValue.String())
	assert.Equal(t, "50", second.CumulativeValue.String())

	// Redelivery of the same batch is excluded, not double counted.
	require.NoError(t, s.Handle(ctx, engine, time.Now(), unit(t, source.BatchRef{Chain: "btc", Start: 106, End: 110})))
	assert.Len(t, store.balances, 2)
}

func TestBalanceStageOutOfOrderBatchIsDropped(t *testing.T) {
	store := &memoryStore{transfers: []*indexermodels.Transfer{
		transfer("A", indexermodels.DirectionInbound, 50, 101),
		transfer("A", indexermodels.DirectionInbound, 10, 107),
	}}
	s := newStage(t, store)
	ctx := context.Background()
	engine, err := s.Init(ctx, "btc:balances:w-0")
	require.NoError(t, err)
	defer s.Deinit(engine)

	require.NoError(t, s.Handle(ctx, engine, time.Now(), unit(t, source.BatchRef{Chain: "btc", Start: 106, End: 110})))
	require.Len(t, store.balances, 1)

	require.NoError(t, s.Handle(ctx, engine, time.Now(), unit(t, source.BatchRef{Chain: "btc", Start: 100, End: 105})))
	require.Len(t, store.balances, 1)
	assert.Equal(t, uint64(110), store.balances[0].BlockNumber)
}

func TestBalanceStageDropsBadUnits(t *testing.T) {
	store := &memoryStore{}
	s := newStage(t, store)
	engine, err := s.Init(context.Background(), "w")
	require.NoError(t, err)
	defer s.Deinit(engine)

	bad := queue.WorkUnit{Message: queue.Message{ID: "1-0", Key: "x", Value: "not json"}}
	require.NoError(t, s.Handle(context.Background(), engine, time.Now(), bad))
	require.NoError(t, s.Handle(context.Background(), engine, time.Now(), unit(t, source.BatchRef{Chain: "eth", Start: 1, End: 2})))
	assert.Empty(t, store.balances)
}

func TestBalanceStageLoadFailureIsRetried(t *testing.T) {
	store := &memoryStore{loadErr: errors.New("clickhouse down")}
	s := newStage(t, store)
	engine, err := s.Init(context.Background(), "w")
	require.NoError(t, err)
	defer s.Deinit(engine)

	require.Error(t, s.Handle(context.Background(), engine, time.Now(), unit(t, source.BatchRef{Start: 1, End: 2})))
}

func TestBalanceStageInitRequiresStores(t *testing.T) {
	_, err := (&BalanceStage{}).Init(context.Background(), "w")
	require.Error(t, err)

	opts := newStage(t, &memoryStore{}).ConsumeOptions(3)
	assert.Equal(t, 3, opts.Concurrency)
	assert.NotNil(t, opts.Handler)
}
