package indexer

import (
	"math/big"
	"strconv"
	"time"
)

// Flow directions as stored in the transfers table.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionIssuance = "issuance"
)

// TransferColumns defines the schema for the transfers (value flow) table.
var TransferColumns = []ColumnDef{
	{Name: "block_number", Type: "UInt64", Codec: "DoubleDelta, LZ4", PGType: "BIGINT NOT NULL"},
	{Name: "block_timestamp", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
	{Name: "tx_hash", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "position", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT NOT NULL"},
	{Name: "address", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "direction", Type: "LowCardinality(String)", PGType: "TEXT NOT NULL"},
	{Name: "contract", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "sub_id", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "value", Type: "UInt256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
	{Name: "fee", Type: "UInt256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
	{Name: "item_id", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT PRIMARY KEY"},
	{Name: "ingested_at", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
}

// Transfer is one directional value flow for one address. Contract is empty for the
// chain's native asset; SubID carries a non-fungible token id.
//
// Position orders flows inside a block. Adapters encode it as tx_index<<20 | sub-position,
// which keeps (block, position) a total order across transactions.
type Transfer struct {
	BlockNumber    uint64    `ch:"block_number" json:"block_number"`
	BlockTimestamp time.Time `ch:"block_timestamp" json:"block_timestamp"`
	TxHash         string    `ch:"tx_hash" json:"tx_hash"`
	Position       uint64    `ch:"position" json:"position"`
	Address        string    `ch:"address" json:"address"`
	Direction      string    `ch:"direction" json:"direction"`
	Contract       string    `ch:"contract" json:"contract"`
	SubID          string    `ch:"sub_id" json:"sub_id"`
	Value          *big.Int  `ch:"value" json:"value"`
	Fee            *big.Int  `ch:"fee" json:"fee"`

	ItemID     string    `ch:"item_id" json:"item_id"`
	IngestedAt time.Time `ch:"ingested_at" json:"ingested_at"`
}

// PositionOf builds the in-block ordering key for the sub-th flow of transaction txIndex.
func PositionOf(txIndex uint32, sub uint32) uint64 {
	return uint64(txIndex)<<20 | uint64(sub&0xFFFFF)
}

func (t *Transfer) identity() []string {
	return []string{
		"transfer",
		strconv.FormatUint(t.BlockNumber, 10),
		t.TxHash,
		strconv.FormatUint(t.Position, 10),
		t.Address,
		t.Direction,
		t.Contract,
		t.SubID,
		bigString(t.Value),
		bigString(t.Fee),
	}
}

func (t *Transfer) Values() []any {
	return []any{
		t.BlockNumber, t.BlockTimestamp, t.TxHash, t.Position, t.Address, t.Direction,
		t.Contract, t.SubID, bigOrZero(t.Value), bigOrZero(t.Fee), t.ItemID, t.IngestedAt,
	}
}
