package indexer

import (
	"strconv"
	"time"
)

// BlockColumns defines the schema for the blocks table.
// Codecs follow the usual split: DoubleDelta for monotonic numbers and timestamps, ZSTD for hashes.
var BlockColumns = []ColumnDef{
	{Name: "number", Type: "UInt64", Codec: "DoubleDelta, LZ4", PGType: "BIGINT NOT NULL"},
	{Name: "hash", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "parent_hash", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
	{Name: "timestamp", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
	{Name: "tx_count", Type: "UInt32", Codec: "Delta, ZSTD(3)", PGType: "INTEGER NOT NULL"},
	{Name: "item_id", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT PRIMARY KEY"},
	{Name: "ingested_at", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
}

// Block carries the identity of one block; Hash is what reorg detection compares.
type Block struct {
	Number     uint64    `ch:"number" json:"number"`
	Hash       string    `ch:"hash" json:"hash"`
	ParentHash string    `ch:"parent_hash" json:"parent_hash"`
	Timestamp  time.Time `ch:"timestamp" json:"timestamp"`
	TxCount    uint32    `ch:"tx_count" json:"tx_count"`

	ItemID     string    `ch:"item_id" json:"item_id"`
	IngestedAt time.Time `ch:"ingested_at" json:"ingested_at"`
}

func (b *Block) identity() []string {
	return []string{
		"block",
		strconv.FormatUint(b.Number, 10),
		b.Hash,
		b.ParentHash,
		strconv.FormatInt(b.Timestamp.UnixMicro(), 10),
		strconv.FormatUint(uint64(b.TxCount), 10),
	}
}

// Values returns the row in BlockColumns order.
func (b *Block) Values() []any {
	return []any{b.Number, b.Hash, b.ParentHash, b.Timestamp, b.TxCount, b.ItemID, b.IngestedAt}
}
