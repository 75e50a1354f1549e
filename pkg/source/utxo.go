package source

import (
	"context"
	"fmt"
	"math/big"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/rpc"
)

// UTXOChainAdapter turns bitcoind-style blocks into value flows: every resolved input is
// an outbound flow for the address that owned it, every output an inbound flow, and
// coinbase outputs are issuance.
type UTXOChainAdapter struct {
	exporter
	node rpc.UTXOClient
}

var (
	_ BlockSourceAdapter = (*UTXOChainAdapter)(nil)
	_ Fetcher            = (*UTXOChainAdapter)(nil)
)

func NewUTXOChainAdapter(node rpc.UTXOClient, opts Options) *UTXOChainAdapter {
	a := &UTXOChainAdapter{node: node}
	a.exporter = newExporter(opts, a.fetchBlock)
	return a
}

func (a *UTXOChainAdapter) Open(ctx context.Context) error { return a.open(ctx) }

func (a *UTXOChainAdapter) Close() error { return a.close() }

// CurrentBlock reports the tip height and its timestamp.
func (a *UTXOChainAdapter) CurrentBlock(ctx context.Context) (Frontier, error) {
	height, err := a.node.BlockCount(ctx)
	if err != nil {
		return Frontier{}, fmt.Errorf("block count: %w", err)
	}
	hash, err := a.node.BlockHash(ctx, height)
	if err != nil {
		return Frontier{Number: height}, nil
	}
	blk, err := a.node.Block(ctx, hash)
	if err != nil {
		return Frontier{Number: height}, nil
	}
	return Frontier{Number: height, Timestamp: time.Unix(blk.Time, 0).UTC()}, nil
}

func (a *UTXOChainAdapter) ExportAll(ctx context.Context, start, end uint64) error {
	return a.exportAll(ctx, start, end)
}

func (a *UTXOChainAdapter) fetchBlock(ctx context.Context, number uint64) (*indexermodels.Items, int, error) {
	hash, err := a.node.BlockHash(ctx, number)
	if err != nil {
		return nil, 0, err
	}
	blk, err := a.node.Block(ctx, hash)
	if err != nil {
		return nil, 0, err
	}
	if blk.Height != number {
		return nil, 0, fmt.Errorf("node returned height %d for %d", blk.Height, number)
	}
	// The header is a separate view of the block, so a truncated getblock body shows up
	// as a transaction count mismatch.
	header, err := a.node.BlockHeader(ctx, hash)
	if err != nil {
		return nil, 0, fmt.Errorf("block header: %w", err)
	}
	return NormalizeUTXOBlock(blk), header.NTx, nil
}

// NormalizeUTXOBlock converts one verbose block. Inputs without a resolved prevout and
// outputs without a standard owner carry no address and are skipped.
func NormalizeUTXOBlock(blk *rpc.UTXOBlock) *indexermodels.Items {
	ts := time.Unix(blk.Time, 0).UTC()
	items := &indexermodels.Items{
		Blocks: []*indexermodels.Block{{
			Number:     blk.Height,
			Hash:       blk.Hash,
			ParentHash: blk.PreviousBlockHash,
			Timestamp:  ts,
			TxCount:    uint32(len(blk.Tx)),
		}},
	}
	if blk.NTx > 0 {
		items.Blocks[0].TxCount = uint32(blk.NTx)
	}

	for i := range blk.Tx {
		tx := &blk.Tx[i]
		coinbase := tx.IsCoinbase()
		txIndex := uint32(i)
		sub := uint32(0)

		total := new(big.Int)
		for _, out := range tx.Vout {
			total.Add(total, rpc.BaseUnits(out.Value))
		}
		fee := new(big.Int)
		if tx.Fee != nil && !coinbase {
			fee = rpc.BaseUnits(*tx.Fee)
		}
		items.Transactions = append(items.Transactions, &indexermodels.Transaction{
			BlockNumber:    blk.Height,
			BlockHash:      blk.Hash,
			BlockTimestamp: ts,
			TxIndex:        txIndex,
			Hash:           tx.Txid,
			Value:          total,
			Fee:            fee,
			IsCoinbase:     coinbase,
			Status:         1,
		})

		if !coinbase {
			for _, in := range tx.Vin {
				if in.Prevout == nil {
					continue
				}
				owner := in.Prevout.ScriptPubKey.Owner()
				if owner == "" {
					sub++
					continue
				}
				items.Transfers = append(items.Transfers, &indexermodels.Transfer{
					BlockNumber:    blk.Height,
					BlockTimestamp: ts,
					TxHash:         tx.Txid,
					Position:       indexermodels.PositionOf(txIndex, sub),
					Address:        owner,
					Direction:      indexermodels.DirectionOutbound,
					Value:          rpc.BaseUnits(in.Prevout.Value),
					Fee:            new(big.Int),
				})
				sub++
			}
		}

		direction := indexermodels.DirectionInbound
		if coinbase {
			direction = indexermodels.DirectionIssuance
		}
		for _, out := range tx.Vout {
			owner := out.ScriptPubKey.Owner()
			if owner == "" {
				sub++
				continue
			}
			items.Transfers = append(items.Transfers, &indexermodels.Transfer{
				BlockNumber:    blk.Height,
				BlockTimestamp: ts,
				TxHash:         tx.Txid,
				Position:       indexermodels.PositionOf(txIndex, sub),
				Address:        owner,
				Direction:      direction,
				Value:          rpc.BaseUnits(out.Value),
				Fee:            new(big.Int),
			})
			sub++
		}
	}
	return items
}
