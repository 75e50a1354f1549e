package balance

import (
	"context"
	"math/big"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

// FlowsFromTransfers maps stored transfer rows to value flows.
func FlowsFromTransfers(rows []*indexermodels.Transfer) []ValueFlow {
	out := make([]ValueFlow, 0, len(rows))
	for _, t := range rows {
		out = append(out, ValueFlow{
			Address:   t.Address,
			Direction: Direction(t.Direction),
			Token:     Token{Contract: t.Contract, SubID: t.SubID},
			Value:     t.Value,
			Fee:       t.Fee,
			Block:     t.BlockNumber,
			Position:  t.Position,
			TxHash:    t.TxHash,
			Timestamp: t.BlockTimestamp,
		})
	}
	return out
}

// ToBalance converts a snapshot to its stored row.
func ToBalance(s *Snapshot, ingestedAt time.Time) *indexermodels.Balance {
	b := &indexermodels.Balance{
		Address:         s.Address,
		Contract:        s.Token.Contract,
		SubID:           s.Token.SubID,
		BlockNumber:     s.Block,
		Fees:            new(big.Int).Set(bigOrZero(s.Fees)),
		CumulativeValue: new(big.Int).Set(bigOrZero(s.Cumulative)),
		IngestedAt:      ingestedAt.UTC(),
	}

	b.InboundBlockCount, b.InboundTxCount, b.InboundTransferCount, b.InboundValue = counts(s.Inbound)
	b.FirstInboundTimestamp, b.FirstInboundBlock, b.FirstInboundTx, b.FirstInboundPosition = pointers(s.Inbound.First)
	b.LastInboundTimestamp, b.LastInboundBlock, b.LastInboundTx, b.LastInboundPosition = pointers(s.Inbound.Last)

	b.OutboundBlockCount, b.OutboundTxCount, b.OutboundTransferCount, b.OutboundValue = counts(s.Outbound)
	b.FirstOutboundTimestamp, b.FirstOutboundBlock, b.FirstOutboundTx, b.FirstOutboundPosition = pointers(s.Outbound.First)
	b.LastOutboundTimestamp, b.LastOutboundBlock, b.LastOutboundTx, b.LastOutboundPosition = pointers(s.Outbound.Last)

	b.IssuanceBlockCount, b.IssuanceTxCount, b.IssuanceTransferCount, b.IssuanceValue = counts(s.Issuance)
	b.FirstIssuanceTimestamp, b.FirstIssuanceBlock, b.FirstIssuanceTx, b.FirstIssuancePosition = pointers(s.Issuance.First)
	b.LastIssuanceTimestamp, b.LastIssuanceBlock, b.LastIssuanceTx, b.LastIssuancePosition = pointers(s.Issuance.Last)
	return b
}

// FromBalance converts a stored row back to a snapshot.
func FromBalance(b *indexermodels.Balance) *Snapshot {
	return &Snapshot{
		Address: b.Address,
		Token:   Token{Contract: b.Contract, SubID: b.SubID},
		Block:   b.BlockNumber,
		Inbound: Counters{
			BlockCount: b.InboundBlockCount, TxCount: b.InboundTxCount, TransferCount: b.InboundTransferCount,
			Value: bigOrZero(b.InboundValue),
			First: occurrence(b.FirstInboundTimestamp, b.FirstInboundBlock, b.FirstInboundTx, b.FirstInboundPosition),
			Last:  occurrence(b.LastInboundTimestamp, b.LastInboundBlock, b.LastInboundTx, b.LastInboundPosition),
		},
		Outbound: Counters{
			BlockCount: b.OutboundBlockCount, TxCount: b.OutboundTxCount, TransferCount: b.OutboundTransferCount,
			Value: bigOrZero(b.OutboundValue),
			First: occurrence(b.FirstOutboundTimestamp, b.FirstOutboundBlock, b.FirstOutboundTx, b.FirstOutboundPosition),
			Last:  occurrence(b.LastOutboundTimestamp, b.LastOutboundBlock, b.LastOutboundTx, b.LastOutboundPosition),
		},
		Issuance: Counters{
			BlockCount: b.IssuanceBlockCount, TxCount: b.IssuanceTxCount, TransferCount: b.IssuanceTransferCount,
			Value: bigOrZero(b.IssuanceValue),
			First: occurrence(b.FirstIssuanceTimestamp, b.FirstIssuanceBlock, b.FirstIssuanceTx, b.FirstIssuancePosition),
			Last:  occurrence(b.LastIssuanceTimestamp, b.LastIssuanceBlock, b.LastIssuanceTx, b.LastIssuancePosition),
		},
		Fees:       bigOrZero(b.Fees),
		Cumulative: bigOrZero(b.CumulativeValue),
	}
}

func counts(c Counters) (uint64, uint64, uint64, *big.Int) {
	return c.BlockCount, c.TxCount, c.TransferCount, new(big.Int).Set(bigOrZero(c.Value))
}

func pointers(o *Occurrence) (*time.Time, *uint64, *string, *uint64) {
	if o == nil {
		return nil, nil, nil, nil
	}
	ts, block, tx, pos := o.Timestamp.UTC(), o.Block, o.TxHash, o.Position
	return &ts, &block, &tx, &pos
}

func occurrence(ts *time.Time, block *uint64, tx *string, pos *uint64) *Occurrence {
	if block == nil {
		return nil
	}
	o := &Occurrence{Block: *block}
	if ts != nil {
		o.Timestamp = ts.UTC()
	}
	if tx != nil {
		o.TxHash = *tx
	}
	if pos != nil {
		o.Position = *pos
	}
	return o
}

// BalanceLoader is the storage lookup StoreReader adapts.
type BalanceLoader interface {
	LatestBalance(ctx context.Context, address, contract, subID string, atOrBefore uint64) (*indexermodels.Balance, error)
}

// StoreReader serves prior snapshots from the balances table.
type StoreReader struct {
	Loader BalanceLoader
}

func (r StoreReader) LatestSnapshot(ctx context.Context, address string, token Token, atOrBefore uint64) (*Snapshot, error) {
	b, err := r.Loader.LatestBalance(ctx, address, token.Contract, token.SubID, atOrBefore)
	if err != nil || b == nil {
		return nil, err
	}
	return FromBalance(b), nil
}
