package indexer

import (
	"math/big"
	"time"
)

// BalanceColumns defines the schema for the balances table. One logical row per
// (address, contract, sub_id); the row with the highest block_number is current.
var BalanceColumns = func() []ColumnDef {
	cols := []ColumnDef{
		{Name: "address", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
		{Name: "contract", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
		{Name: "sub_id", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT NOT NULL"},
		{Name: "block_number", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT NOT NULL"},
	}
	for _, dir := range []string{DirectionInbound, DirectionOutbound, DirectionIssuance} {
		cols = append(cols, directionColumns(dir)...)
	}
	return append(cols,
		ColumnDef{Name: "fees", Type: "UInt256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
		ColumnDef{Name: "cumulative_value", Type: "Int256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
		ColumnDef{Name: "ingested_at", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4", PGType: "TIMESTAMPTZ NOT NULL"},
	)
}()

func directionColumns(dir string) []ColumnDef {
	cols := []ColumnDef{
		{Name: dir + "_block_count", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT NOT NULL"},
		{Name: dir + "_tx_count", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT NOT NULL"},
		{Name: dir + "_transfer_count", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT NOT NULL"},
		{Name: dir + "_value", Type: "UInt256", Codec: "ZSTD(1)", PGType: "NUMERIC(78,0) NOT NULL"},
	}
	for _, edge := range []string{"first", "last"} {
		p := edge + "_" + dir
		cols = append(cols,
			ColumnDef{Name: p + "_timestamp", Type: "Nullable(DateTime64(6))", PGType: "TIMESTAMPTZ"},
			ColumnDef{Name: p + "_block", Type: "Nullable(UInt64)", PGType: "BIGINT"},
			ColumnDef{Name: p + "_tx", Type: "Nullable(String)", PGType: "TEXT"},
			ColumnDef{Name: p + "_position", Type: "Nullable(UInt64)", PGType: "BIGINT"},
		)
	}
	return cols
}

// Balance is the stored form of a cumulative address snapshot. Occurrence pointers are
// nullable: an address that never received anything has no first/last inbound.
type Balance struct {
	Address     string `ch:"address" json:"address"`
	Contract    string `ch:"contract" json:"contract"`
	SubID       string `ch:"sub_id" json:"sub_id"`
	BlockNumber uint64 `ch:"block_number" json:"block_number"`

	InboundBlockCount      uint64     `ch:"inbound_block_count" json:"inbound_block_count"`
	InboundTxCount         uint64     `ch:"inbound_tx_count" json:"inbound_tx_count"`
	InboundTransferCount   uint64     `ch:"inbound_transfer_count" json:"inbound_transfer_count"`
	InboundValue           *big.Int   `ch:"inbound_value" json:"inbound_value"`
	FirstInboundTimestamp  *time.Time `ch:"first_inbound_timestamp" json:"first_inbound_timestamp,omitempty"`
	FirstInboundBlock      *uint64    `ch:"first_inbound_block" json:"first_inbound_block,omitempty"`
	FirstInboundTx         *string    `ch:"first_inbound_tx" json:"first_inbound_tx,omitempty"`
	FirstInboundPosition   *uint64    `ch:"first_inbound_position" json:"first_inbound_position,omitempty"`
	LastInboundTimestamp   *time.Time `ch:"last_inbound_timestamp" json:"last_inbound_timestamp,omitempty"`
	LastInboundBlock       *uint64    `ch:"last_inbound_block" json:"last_inbound_block,omitempty"`
	LastInboundTx          *string    `ch:"last_inbound_tx" json:"last_inbound_tx,omitempty"`
	LastInboundPosition    *uint64    `ch:"last_inbound_position" json:"last_inbound_position,omitempty"`
	OutboundBlockCount     uint64     `ch:"outbound_block_count" json:"outbound_block_count"`
	OutboundTxCount        uint64     `ch:"outbound_tx_count" json:"outbound_tx_count"`
	OutboundTransferCount  uint64     `ch:"outbound_transfer_count" json:"outbound_transfer_count"`
	OutboundValue          *big.Int   `ch:"outbound_value" json:"outbound_value"`
	FirstOutboundTimestamp *time.Time `ch:"first_outbound_timestamp" json:"first_outbound_timestamp,omitempty"`
	FirstOutboundBlock     *uint64    `ch:"first_outbound_block" json:"first_outbound_block,omitempty"`
	FirstOutboundTx        *string    `ch:"first_outbound_tx" json:"first_outbound_tx,omitempty"`
	FirstOutboundPosition  *uint64    `ch:"first_outbound_position" json:"first_outbound_position,omitempty"`
	LastOutboundTimestamp  *time.Time `ch:"last_outbound_timestamp" json:"last_outbound_timestamp,omitempty"`
	LastOutboundBlock      *uint64    `ch:"last_outbound_block" json:"last_outbound_block,omitempty"`
	LastOutboundTx         *string    `ch:"last_outbound_tx" json:"last_outbound_tx,omitempty"`
	LastOutboundPosition   *uint64    `ch:"last_outbound_position" json:"last_outbound_position,omitempty"`
	IssuanceBlockCount     uint64     `ch:"issuance_block_count" json:"issuance_block_count"`
	IssuanceTxCount        uint64     `ch:"issuance_tx_count" json:"issuance_tx_count"`
	IssuanceTransferCount  uint64     `ch:"issuance_transfer_count" json:"issuance_transfer_count"`
	IssuanceValue          *big.Int   `ch:"issuance_value" json:"issuance_value"`
	FirstIssuanceTimestamp *time.Time `ch:"first_issuance_timestamp" json:"first_issuance_timestamp,omitempty"`
	FirstIssuanceBlock     *uint64    `ch:"first_issuance_block" json:"first_issuance_block,omitempty"`
	FirstIssuanceTx        *string    `ch:"first_issuance_tx" json:"first_issuance_tx,omitempty"`
	FirstIssuancePosition  *uint64    `ch:"first_issuance_position" json:"first_issuance_position,omitempty"`
	LastIssuanceTimestamp  *time.Time `ch:"last_issuance_timestamp" json:"last_issuance_timestamp,omitempty"`
	LastIssuanceBlock      *uint64    `ch:"last_issuance_block" json:"last_issuance_block,omitempty"`
	LastIssuanceTx         *string    `ch:"last_issuance_tx" json:"last_issuance_tx,omitempty"`
	LastIssuancePosition   *uint64    `ch:"last_issuance_position" json:"last_issuance_position,omitempty"`

	Fees            *big.Int  `ch:"fees" json:"fees"`
	CumulativeValue *big.Int  `ch:"cumulative_value" json:"cumulative_value"`
	IngestedAt      time.Time `ch:"ingested_at" json:"ingested_at"`
}

// Values returns the row in BalanceColumns order.
func (b *Balance) Values() []any {
	return []any{
		b.Address, b.Contract, b.SubID, b.BlockNumber,
		b.InboundBlockCount, b.InboundTxCount, b.InboundTransferCount, bigOrZero(b.InboundValue),
		b.FirstInboundTimestamp, b.FirstInboundBlock, b.FirstInboundTx, b.FirstInboundPosition,
		b.LastInboundTimestamp, b.LastInboundBlock, b.LastInboundTx, b.LastInboundPosition,
		b.OutboundBlockCount, b.OutboundTxCount, b.OutboundTransferCount, bigOrZero(b.OutboundValue),
		b.FirstOutboundTimestamp, b.FirstOutboundBlock, b.FirstOutboundTx, b.FirstOutboundPosition,
		b.LastOutboundTimestamp, b.LastOutboundBlock, b.LastOutboundTx, b.LastOutboundPosition,
		b.IssuanceBlockCount, b.IssuanceTxCount, b.IssuanceTransferCount, bigOrZero(b.IssuanceValue),
		b.FirstIssuanceTimestamp, b.FirstIssuanceBlock, b.FirstIssuanceTx, b.FirstIssuancePosition,
		b.LastIssuanceTimestamp, b.LastIssuanceBlock, b.LastIssuanceTx, b.LastIssuancePosition,
		bigOrZero(b.Fees), bigOrZero(b.CumulativeValue), b.IngestedAt,
	}
}
