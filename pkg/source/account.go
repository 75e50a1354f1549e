package source

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/rpc"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), shared by ERC-20
// and ERC-721.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

const zeroAddress = "0x0000000000000000000000000000000000000000"

// AccountChainAdapter turns Ethereum-style blocks and receipts into value flows: native
// value movements, gas fees, and token Transfer events.
type AccountChainAdapter struct {
	exporter
	node rpc.AccountClient
}

var (
	_ BlockSourceAdapter = (*AccountChainAdapter)(nil)
	_ Fetcher            = (*AccountChainAdapter)(nil)
)

func NewAccountChainAdapter(node rpc.AccountClient, opts Options) *AccountChainAdapter {
	a := &AccountChainAdapter{node: node}
	a.exporter = newExporter(opts, a.fetchBlock)
	return a
}

func (a *AccountChainAdapter) Open(ctx context.Context) error { return a.open(ctx) }

func (a *AccountChainAdapter) Close() error { return a.close() }

func (a *AccountChainAdapter) CurrentBlock(ctx context.Context) (Frontier, error) {
	number, err := a.node.BlockNumber(ctx)
	if err != nil {
		return Frontier{}, fmt.Errorf("block number: %w", err)
	}
	blk, err := a.node.BlockByNumber(ctx, number)
	if err != nil {
		return Frontier{Number: number}, nil
	}
	ts, err := blk.Timestamp.Uint64()
	if err != nil {
		return Frontier{Number: number}, nil
	}
	return Frontier{Number: number, Timestamp: time.Unix(int64(ts), 0).UTC()}, nil
}

func (a *AccountChainAdapter) ExportAll(ctx context.Context, start, end uint64) error {
	return a.exportAll(ctx, start, end)
}

func (a *AccountChainAdapter) fetchBlock(ctx context.Context, number uint64) (*indexermodels.Items, int, error) {
	blk, err := a.node.BlockByNumber(ctx, number)
	if err != nil {
		return nil, 0, err
	}
	receipts, err := a.node.BlockReceipts(ctx, number)
	if err != nil {
		return nil, 0, err
	}
	items, err := NormalizeAccountBlock(blk, receipts)
	if err != nil {
		return nil, 0, fmt.Errorf("normalize: %w", err)
	}
	return items, len(blk.Transactions), nil
}

// NormalizeAccountBlock joins a block with its receipts. Transactions whose receipt is
// missing are dropped, which the exporter's row count check then reports.
func NormalizeAccountBlock(blk *rpc.AccountBlock, receipts []rpc.AccountReceipt) (*indexermodels.Items, error) {
	number, err := blk.Number.Uint64()
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	rawTS, err := blk.Timestamp.Uint64()
	if err != nil {
		return nil, fmt.Errorf("block timestamp: %w", err)
	}
	ts := time.Unix(int64(rawTS), 0).UTC()

	byHash := make(map[string]*rpc.AccountReceipt, len(receipts))
	for i := range receipts {
		byHash[strings.ToLower(receipts[i].TransactionHash)] = &receipts[i]
	}

	items := &indexermodels.Items{
		Blocks: []*indexermodels.Block{{
			Number:     number,
			Hash:       blk.Hash,
			ParentHash: blk.ParentHash,
			Timestamp:  ts,
			TxCount:    uint32(len(blk.Transactions)),
		}},
	}

	for i := range blk.Transactions {
		tx := &blk.Transactions[i]
		receipt, ok := byHash[strings.ToLower(tx.Hash)]
		if !ok {
			continue
		}
		idx, err := tx.TransactionIndex.Uint64()
		if err != nil {
			return nil, fmt.Errorf("tx %s index: %w", tx.Hash, err)
		}
		txIndex := uint32(idx)
		value, err := tx.Value.Big()
		if err != nil {
			return nil, fmt.Errorf("tx %s value: %w", tx.Hash, err)
		}
		status, err := receipt.Status.Uint64()
		if err != nil {
			return nil, fmt.Errorf("tx %s status: %w", tx.Hash, err)
		}
		fee, err := receiptFee(tx, receipt)
		if err != nil {
			return nil, fmt.Errorf("tx %s fee: %w", tx.Hash, err)
		}

		from := strings.ToLower(tx.From)
		to := ""
		if tx.To != nil {
			to = strings.ToLower(*tx.To)
		} else if receipt.ContractAddress != nil {
			to = strings.ToLower(*receipt.ContractAddress)
		}
		succeeded := status == 1

		items.Transactions = append(items.Transactions, &indexermodels.Transaction{
			BlockNumber:    number,
			BlockHash:      blk.Hash,
			BlockTimestamp: ts,
			TxIndex:        txIndex,
			Hash:           tx.Hash,
			From:           from,
			To:             to,
			Value:          value,
			Fee:            fee,
			Status:         uint8(status),
		})

		sub := uint32(0)
		moved := value
		if !succeeded {
			moved = new(big.Int)
		}
		items.Transfers = append(items.Transfers, &indexermodels.Transfer{
			BlockNumber:    number,
			BlockTimestamp: ts,
			TxHash:         tx.Hash,
			Position:       indexermodels.PositionOf(txIndex, sub),
			Address:        from,
			Direction:      indexermodels.DirectionOutbound,
			Value:          moved,
			Fee:            fee,
		})
		sub++
		if succeeded && value.Sign() > 0 && to != "" {
			items.Transfers = append(items.Transfers, &indexermodels.Transfer{
				BlockNumber:    number,
				BlockTimestamp: ts,
				TxHash:         tx.Hash,
				Position:       indexermodels.PositionOf(txIndex, sub),
				Address:        to,
				Direction:      indexermodels.DirectionInbound,
				Value:          new(big.Int).Set(value),
				Fee:            new(big.Int),
			})
			sub++
		}
		if !succeeded {
			continue
		}

		for _, lg := range receipt.Logs {
			flows, err := tokenFlows(lg)
			if err != nil {
				return nil, fmt.Errorf("tx %s log: %w", tx.Hash, err)
			}
			for _, f := range flows {
				f.BlockNumber = number
				f.BlockTimestamp = ts
				f.TxHash = tx.Hash
				f.Position = indexermodels.PositionOf(txIndex, sub)
				f.Fee = new(big.Int)
				items.Transfers = append(items.Transfers, f)
				sub++
			}
		}
	}
	return items, nil
}

func receiptFee(tx *rpc.AccountTransaction, receipt *rpc.AccountReceipt) (*big.Int, error) {
	gasUsed, err := receipt.GasUsed.Big()
	if err != nil {
		return nil, err
	}
	price := receipt.EffectiveGasPrice
	if price == "" {
		price = tx.GasPrice
	}
	gasPrice, err := price.Big()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(gasUsed, gasPrice), nil
}

// tokenFlows decodes an ERC-20 (three topics, amount in data) or ERC-721 (four topics,
// token id in the last topic) Transfer event into its outbound and inbound flows.
// Mints and burns only produce the side with a real address.
func tokenFlows(lg rpc.AccountLog) ([]*indexermodels.Transfer, error) {
	if lg.Removed || len(lg.Topics) < 3 || !strings.EqualFold(lg.Topics[0], TransferTopic) {
		return nil, nil
	}
	from := topicAddress(lg.Topics[1])
	to := topicAddress(lg.Topics[2])
	contract := strings.ToLower(lg.Address)

	var value *big.Int
	subID := ""
	switch len(lg.Topics) {
	case 3:
		v, err := rpc.Quantity(trimData(lg.Data)).Big()
		if err != nil {
			return nil, err
		}
		value = v
	case 4:
		id, err := rpc.Quantity(lg.Topics[3]).Big()
		if err != nil {
			return nil, err
		}
		subID = id.String()
		value = big.NewInt(1)
	default:
		return nil, nil
	}

	var out []*indexermodels.Transfer
	if from != zeroAddress {
		out = append(out, &indexermodels.Transfer{
			Address:   from,
			Direction: indexermodels.DirectionOutbound,
			Contract:  contract,
			SubID:     subID,
			Value:     value,
		})
	}
	if to != zeroAddress {
		out = append(out, &indexermodels.Transfer{
			Address:   to,
			Direction: indexermodels.DirectionInbound,
			Contract:  contract,
			SubID:     subID,
			Value:     new(big.Int).Set(value),
		})
	}
	return out, nil
}

// topicAddress takes the low 20 bytes of a 32-byte topic.
func topicAddress(topic string) string {
	t := strings.ToLower(strings.TrimPrefix(topic, "0x"))
	if len(t) > 40 {
		t = t[len(t)-40:]
	}
	return "0x" + strings.Repeat("0", 40-len(t)) + t
}

// trimData keeps the first 32-byte word of the log data.
func trimData(data string) string {
	d := strings.TrimPrefix(data, "0x")
	if len(d) > 64 {
		d = d[:64]
	}
	if d == "" {
		d = "0"
	}
	return "0x" + d
}
