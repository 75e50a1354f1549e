package source

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func spk(addr string) rpc.ScriptPubKey { return rpc.ScriptPubKey{Type: "witness_v0_keyhash", Address: addr} }

func utxoBlock(n uint64) *rpc.UTXOBlock {
	fee := decimal.RequireFromString("0.0001")
	return &rpc.UTXOBlock{
		Hash:              blockHash(n),
		Height:            n,
		PreviousBlockHash: blockHash(n - 1),
		Time:              1700000000 + int64(n),
		NTx:               2,
		Tx: []rpc.UTXOTx{
			{
				Txid: "cb" + blockHash(n),
				Vin:  []rpc.UTXOInput{{Coinbase: "03abcd"}},
				Vout: []rpc.UTXOOutput{{Value: decimal.RequireFromString("3.125"), N: 0, ScriptPubKey: spk("miner")}},
			},
			{
				Txid: "tx" + blockHash(n),
				Vin: []rpc.UTXOInput{{
					Txid: "prev", Vout: 1,
					Prevout: &rpc.UTXOPrevout{Value: decimal.RequireFromString("1.0"), ScriptPubKey: spk("alice")},
				}},
				Vout: []rpc.UTXOOutput{
					{Value: decimal.RequireFromString("0.4"), N: 0, ScriptPubKey: spk("bob")},
					{Value: decimal.RequireFromString("0.5999"), N: 1, ScriptPubKey: spk("alice")},
					{Value: decimal.Zero, N: 2, ScriptPubKey: rpc.ScriptPubKey{Type: "nulldata"}},
				},
				Fee: &fee,
			},
		},
	}
}

func TestNormalizeUTXOBlock(t *testing.T) {
	items := NormalizeUTXOBlock(utxoBlock(100))

	require.Len(t, items.Blocks, 1)
	assert.Equal(t, uint32(2), items.Blocks[0].TxCount)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), items.Blocks[0].Timestamp)

	require.Len(t, items.Transactions, 2)
	assert.True(t, items.Transactions[0].IsCoinbase)
	assert.Equal(t, int64(0), items.Transactions[0].Fee.Int64())
	assert.Equal(t, int64(10000), items.Transactions[1].Fee.Int64())
	assert.Equal(t, int64(99990000), items.Transactions[1].Value.Int64())

	require.Len(t, items.Transfers, 4)
	issuance := items.Transfers[0]
	assert.Equal(t, "miner", issuance.Address)
	assert.Equal(t, indexermodels.DirectionIssuance, issuance.Direction)
	assert.Equal(t, int64(312500000), issuance.Value.Int64())

	out := items.Transfers[1]
	assert.Equal(t, "alice", out.Address)
	assert.Equal(t, indexermodels.DirectionOutbound, out.Direction)
	assert.Equal(t, int64(100000000), out.Value.Int64())

	assert.Equal(t, "bob", items.Transfers[2].Address)
	assert.Equal(t, indexermodels.DirectionInbound, items.Transfers[2].Direction)
	assert.Equal(t, "alice", items.Transfers[3].Address)

	for i := 1; i < len(items.Transfers); i++ {
		prev, cur := items.Transfers[i-1], items.Transfers[i]
		assert.Less(t, prev.Position, cur.Position)
	}

	// Alice's net effect is the fee.
	net := new(big.Int).Sub(items.Transfers[3].Value, out.Value)
	assert.Equal(t, int64(-10000), net.Int64())
}

func newUTXOFixture(t *testing.T, blocks ...uint64) (*UTXOChainAdapter, *fakeUTXONode, *fakeSink, *fakePublisher) {
	node := &fakeUTXONode{blocks: map[uint64]*rpc.UTXOBlock{}, failOn: map[uint64]error{}}
	for _, n := range blocks {
		node.blocks[n] = utxoBlock(n)
		if n > node.tip {
			node.tip = n
		}
	}
	sink := &fakeSink{}
	pub := &fakePublisher{}
	a := NewUTXOChainAdapter(node, Options{
		Chain:     "btc",
		Sink:      sink,
		Publisher: pub,
		Workers:   3,
		Logger:    zaptest.NewLogger(t),
		Now:       func() time.Time { return time.Unix(1800000000, 0) },
	})
	t.Cleanup(func() { _ = a.Close() })
	return a, node, sink, pub
}

func TestUTXOAdapterExportAll(t *testing.T) {
	a, _, sink, pub := newUTXOFixture(t, 100, 101, 102, 103)
	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	assert.True(t, sink.opened)

	require.NoError(t, a.ExportAll(ctx, 100, 102))

	require.Len(t, sink.batches, 1)
	batch := sink.batches[0]
	require.Len(t, batch.Blocks, 3)
	for i, b := range batch.Blocks {
		assert.Equal(t, uint64(100+i), b.Number)
		assert.NotEmpty(t, b.ItemID)
		assert.Equal(t, time.Unix(1800000000, 0).UTC(), b.IngestedAt)
	}
	assert.Len(t, batch.Transactions, 6)

	require.Equal(t, []string{"102"}, pub.keys)
	ref, err := DecodeBatchRef(pub.values[0])
	require.NoError(t, err)
	assert.Equal(t, BatchRef{Chain: "btc", Start: 100, End: 102}, ref)
}

func TestUTXOAdapterAllOrNothing(t *testing.T) {
	a, node, sink, pub := newUTXOFixture(t, 100, 101, 102)
	node.failOn[101] = errors.New("node hiccup")

	err := a.ExportAll(context.Background(), 100, 102)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 101")
	assert.Empty(t, sink.batches)
	assert.Empty(t, pub.keys)
}

func TestUTXOAdapterConsistency(t *testing.T) {
	a, node, sink, _ := newUTXOFixture(t, 100)
	// getblock agrees with itself; only the header disagrees.
	node.headerNTx = map[uint64]int{100: 5}

	err := a.ExportAll(context.Background(), 100, 100)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(100), ce.Block)
	assert.Equal(t, 5, ce.Expected)
	assert.Equal(t, 2, ce.Actual)
	assert.Empty(t, sink.batches)

	a.opts.AllowIncomplete = true
	require.NoError(t, a.ExportAll(context.Background(), 100, 100))
	assert.Len(t, sink.batches, 1)
}

func TestUTXOAdapterSinkFailure(t *testing.T) {
	a, _, sink, pub := newUTXOFixture(t, 100)
	sink.err = errors.New("disk full")

	require.Error(t, a.ExportAll(context.Background(), 100, 100))
	assert.Empty(t, pub.keys)
}

func TestUTXOAdapterCurrentBlock(t *testing.T) {
	a, _, _, _ := newUTXOFixture(t, 100, 101)
	f, err := a.CurrentBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), f.Number)
	assert.Equal(t, time.Unix(1700000101, 0).UTC(), f.Timestamp)
}

func TestFetchRangeIsDeterministic(t *testing.T) {
	a, _, _, _ := newUTXOFixture(t, 100, 101)
	first, err := a.FetchRange(context.Background(), 100, 101)
	require.NoError(t, err)
	second, err := a.FetchRange(context.Background(), 100, 101)
	require.NoError(t, err)
	require.Equal(t, len(first.Transfers), len(second.Transfers))
	for i := range first.Transfers {
		assert.Equal(t, first.Transfers[i].ItemID, second.Transfers[i].ItemID)
	}
}
