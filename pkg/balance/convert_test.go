package balance

import (
	"context"
	"math/big"
	"testing"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRowRoundTrip(t *testing.T) {
	s := Aggregate([]ValueFlow{
		flow("A", Inbound, 50, 101, 3, "t1"),
		flow("A", Outbound, 20, 103, 0, "t2"),
	}, 105, Options{})[0]

	row := ToBalance(s, time.Unix(100, 0))
	assert.Equal(t, uint64(105), row.BlockNumber)
	require.NotNil(t, row.FirstInboundBlock)
	assert.Equal(t, uint64(101), *row.FirstInboundBlock)
	assert.Equal(t, uint64(3), *row.FirstInboundPosition)
	assert.Nil(t, row.FirstIssuanceBlock)
	assert.Equal(t, "30", row.CumulativeValue.String())
	assert.Len(t, row.Values(), len(indexermodels.BalanceColumns))

	back := FromBalance(row)
	assert.Equal(t, s.Inbound.First, back.Inbound.First)
	assert.Equal(t, s.Outbound.Last, back.Outbound.Last)
	assert.Nil(t, back.Issuance.Last)
	assert.Equal(t, s.Cumulative.String(), back.Cumulative.String())
}

func TestFlowsFromTransfers(t *testing.T) {
	rows := []*indexermodels.Transfer{{
		BlockNumber: 7, TxHash: "t", Position: 2, Address: "A",
		Direction: indexermodels.DirectionIssuance, Contract: "", Value: big.NewInt(9), Fee: new(big.Int),
	}}
	flows := FlowsFromTransfers(rows)
	require.Len(t, flows, 1)
	assert.Equal(t, Issuance, flows[0].Direction)
	assert.True(t, flows[0].Token.Native())
	assert.Equal(t, uint64(7), flows[0].Block)
}

type fakeLoader struct {
	row *indexermodels.Balance
	got []any
}

func (f *fakeLoader) LatestBalance(_ context.Context, address, contract, subID string, atOrBefore uint64) (*indexermodels.Balance, error) {
	f.got = []any{address, contract, subID, atOrBefore}
	return f.row, nil
}

func TestStoreReader(t *testing.T) {
	loader := &fakeLoader{}
	r := StoreReader{Loader: loader}

	s, err := r.LatestSnapshot(context.Background(), "A", Token{Contract: "0xcc", SubID: "1"}, 50)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []any{"A", "0xcc", "1", uint64(50)}, loader.got)

	loader.row = &indexermodels.Balance{Address: "A", BlockNumber: 40, CumulativeValue: big.NewInt(3)}
	s, err = r.LatestSnapshot(context.Background(), "A", Token{}, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), s.Block)
	assert.Equal(t, "3", s.Cumulative.String())
}
