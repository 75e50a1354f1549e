package rpc

import (
	"context"
)

// AccountBlock is eth_getBlockByNumber with full transaction objects.
type AccountBlock struct {
	Number       Quantity             `json:"number"`
	Hash         string               `json:"hash"`
	ParentHash   string               `json:"parentHash"`
	Timestamp    Quantity             `json:"timestamp"`
	Miner        string               `json:"miner"`
	Transactions []AccountTransaction `json:"transactions"`
}

type AccountTransaction struct {
	Hash             string   `json:"hash"`
	From             string   `json:"from"`
	To               *string  `json:"to"`
	Value            Quantity `json:"value"`
	TransactionIndex Quantity `json:"transactionIndex"`
	GasPrice         Quantity `json:"gasPrice"`
}

type AccountReceipt struct {
	TransactionHash   string       `json:"transactionHash"`
	TransactionIndex  Quantity     `json:"transactionIndex"`
	Status            Quantity     `json:"status"`
	GasUsed           Quantity     `json:"gasUsed"`
	EffectiveGasPrice Quantity     `json:"effectiveGasPrice"`
	ContractAddress   *string      `json:"contractAddress"`
	Logs              []AccountLog `json:"logs"`
}

type AccountLog struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex Quantity `json:"logIndex"`
	Removed  bool     `json:"removed"`
}

// AccountNode talks to an Ethereum-compatible node.
type AccountNode struct {
	Caller Caller
}

func NewAccountNode(c Caller) *AccountNode {
	return &AccountNode{Caller: c}
}

func (n *AccountNode) BlockNumber(ctx context.Context) (uint64, error) {
	var q Quantity
	if err := n.Caller.Call(ctx, "eth_blockNumber", []any{}, &q); err != nil {
		return 0, err
	}
	return q.Uint64()
}

func (n *AccountNode) BlockByNumber(ctx context.Context, number uint64) (*AccountBlock, error) {
	var block AccountBlock
	if err := n.Caller.Call(ctx, "eth_getBlockByNumber", []any{QuantityOf(number), true}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (n *AccountNode) BlockReceipts(ctx context.Context, number uint64) ([]AccountReceipt, error) {
	var receipts []AccountReceipt
	if err := n.Caller.Call(ctx, "eth_getBlockReceipts", []any{QuantityOf(number)}, &receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}
