// Package balance turns batches of directional value flows into cumulative per-address
// snapshots and merges them onto the latest stored snapshot.
package balance

import (
	"math/big"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

type Direction string

const (
	Inbound  Direction = indexermodels.DirectionInbound
	Outbound Direction = indexermodels.DirectionOutbound
	Issuance Direction = indexermodels.DirectionIssuance
)

// Token identifies the asset a flow moves. The zero Token is the chain's native asset.
type Token struct {
	Contract string
	SubID    string
}

func (t Token) Native() bool { return t.Contract == "" }

// ValueFlow is one directional movement of value for one address.
type ValueFlow struct {
	Address   string
	Direction Direction
	Token     Token
	Value     *big.Int
	Fee       *big.Int
	Block     uint64
	Position  uint64
	TxHash    string
	Timestamp time.Time
}

// Occurrence points at the flow where something was first or last seen.
type Occurrence struct {
	Timestamp time.Time
	Block     uint64
	TxHash    string
	Position  uint64
}

// Counters aggregate one direction for one address and token.
type Counters struct {
	BlockCount    uint64
	TxCount       uint64
	TransferCount uint64
	Value         *big.Int
	First         *Occurrence
	Last          *Occurrence
}

func zeroCounters() Counters {
	return Counters{Value: new(big.Int)}
}

// Key identifies one snapshot series.
type Key struct {
	Address string
	Token   Token
}

// Snapshot is the cumulative record for one address and token as of Block.
type Snapshot struct {
	Address    string
	Token      Token
	Block      uint64
	Inbound    Counters
	Outbound   Counters
	Issuance   Counters
	Fees       *big.Int
	Cumulative *big.Int
}

func (s *Snapshot) Key() Key { return Key{Address: s.Address, Token: s.Token} }

func newSnapshot(key Key, block uint64) *Snapshot {
	return &Snapshot{
		Address:    key.Address,
		Token:      key.Token,
		Block:      block,
		Inbound:    zeroCounters(),
		Outbound:   zeroCounters(),
		Issuance:   zeroCounters(),
		Fees:       new(big.Int),
		Cumulative: new(big.Int),
	}
}

func (s *Snapshot) counters(d Direction) *Counters {
	switch d {
	case Inbound:
		return &s.Inbound
	case Outbound:
		return &s.Outbound
	default:
		return &s.Issuance
	}
}
