package rpc

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// UTXOBlock is getblock at verbosity 3: full transactions with resolved prevouts.
type UTXOBlock struct {
	Hash              string   `json:"hash"`
	Height            uint64   `json:"height"`
	PreviousBlockHash string   `json:"previousblockhash"`
	Time              int64    `json:"time"`
	NTx               int      `json:"nTx"`
	Tx                []UTXOTx `json:"tx"`
}

// UTXOHeader is verbose getblockheader.
type UTXOHeader struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
	NTx    int    `json:"nTx"`
}

type UTXOTx struct {
	Txid string           `json:"txid"`
	Vin  []UTXOInput      `json:"vin"`
	Vout []UTXOOutput     `json:"vout"`
	Fee  *decimal.Decimal `json:"fee,omitempty"`
}

// IsCoinbase reports whether the transaction mints new coins.
func (t *UTXOTx) IsCoinbase() bool {
	return len(t.Vin) > 0 && t.Vin[0].Coinbase != ""
}

type UTXOInput struct {
	Coinbase string       `json:"coinbase,omitempty"`
	Txid     string       `json:"txid,omitempty"`
	Vout     uint32       `json:"vout"`
	Prevout  *UTXOPrevout `json:"prevout,omitempty"`
}

type UTXOPrevout struct {
	Value        decimal.Decimal `json:"value"`
	ScriptPubKey ScriptPubKey    `json:"scriptPubKey"`
}

type UTXOOutput struct {
	Value        decimal.Decimal `json:"value"`
	N            uint32          `json:"n"`
	ScriptPubKey ScriptPubKey    `json:"scriptPubKey"`
}

type ScriptPubKey struct {
	Type      string   `json:"type"`
	Address   string   `json:"address,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// Owner returns the address an output pays to. Older nodes report a list; non-standard
// scripts have none and yield "".
func (s ScriptPubKey) Owner() string {
	if s.Address != "" {
		return s.Address
	}
	if len(s.Addresses) == 1 {
		return s.Addresses[0]
	}
	return ""
}

// CoinDecimals is the number of decimal places between a coin and its base unit.
const CoinDecimals = 8

// BaseUnits converts a decimal coin amount to integer base units (satoshis).
func BaseUnits(v decimal.Decimal) *big.Int {
	return v.Shift(CoinDecimals).BigInt()
}

// UTXONode talks to a bitcoind-compatible node.
type UTXONode struct {
	Caller Caller
}

func NewUTXONode(c Caller) *UTXONode {
	return &UTXONode{Caller: c}
}

func (n *UTXONode) BlockCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := n.Caller.Call(ctx, "getblockcount", []any{}, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (n *UTXONode) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := n.Caller.Call(ctx, "getblockhash", []any{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (n *UTXONode) Block(ctx context.Context, hash string) (*UTXOBlock, error) {
	var block UTXOBlock
	if err := n.Caller.Call(ctx, "getblock", []any{hash, 3}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (n *UTXONode) BlockHeader(ctx context.Context, hash string) (*UTXOHeader, error) {
	var header UTXOHeader
	if err := n.Caller.Call(ctx, "getblockheader", []any{hash, true}, &header); err != nil {
		return nil, err
	}
	return &header, nil
}
