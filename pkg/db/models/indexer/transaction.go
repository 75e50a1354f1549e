package indexer

import (
	"math/big"
	"strconv"
	"time"
)

// TransactionColumns defines the schema for the transactions table.
var TransactionColumns = []ColumnDef{
	{Name: "block_number", Type: "UInt64", Codec: "DoubleDelta, LZ4", PGType: "BIGINT NOT NULL"},
	{Name: "block_hash", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "block_timestamp", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
	{Name: "tx_index", Type: "UInt32", Codec: "Delta, ZSTD(3)", PGType: "INTEGER NOT NULL"},
	{Name: "hash", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "from_address", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "to_address", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "value", Type: "UInt256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
	{Name: "fee", Type: "UInt256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
	{Name: "is_coinbase", Type: "Bool", PGType: "BOOLEAN NOT NULL"},
	{Name: "status", Type: "UInt8", PGType: "SMALLINT NOT NULL"},
	{Name: "item_id", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT PRIMARY KEY"},
	{Name: "ingested_at", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
}

// Transaction is chain-family neutral. For UTXO chains From/To are left empty and the
// per-address effect lives in Transfer rows.
type Transaction struct {
	BlockNumber    uint64    `ch:"block_number" json:"block_number"`
	BlockHash      string    `ch:"block_hash" json:"block_hash"`
	BlockTimestamp time.Time `ch:"block_timestamp" json:"block_timestamp"`
	TxIndex        uint32    `ch:"tx_index" json:"tx_index"`
	Hash           string    `ch:"hash" json:"hash"`
	From           string    `ch:"from_address" json:"from_address"`
	To             string    `ch:"to_address" json:"to_address"`
	Value          *big.Int  `ch:"value" json:"value"`
	Fee            *big.Int  `ch:"fee" json:"fee"`
	IsCoinbase     bool      `ch:"is_coinbase" json:"is_coinbase"`
	Status         uint8     `ch:"status" json:"status"`

	ItemID     string    `ch:"item_id" json:"item_id"`
	IngestedAt time.Time `ch:"ingested_at" json:"ingested_at"`
}

func (t *Transaction) identity() []string {
	return []string{
		"transaction",
		strconv.FormatUint(t.BlockNumber, 10),
		t.BlockHash,
		strconv.FormatUint(uint64(t.TxIndex), 10),
		t.Hash,
		t.From,
		t.To,
		bigString(t.Value),
		bigString(t.Fee),
		strconv.FormatBool(t.IsCoinbase),
		strconv.FormatUint(uint64(t.Status), 10),
	}
}

func (t *Transaction) Values() []any {
	return []any{
		t.BlockNumber, t.BlockHash, t.BlockTimestamp, t.TxIndex, t.Hash, t.From, t.To,
		bigOrZero(t.Value), bigOrZero(t.Fee), t.IsCoinbase, t.Status, t.ItemID, t.IngestedAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
