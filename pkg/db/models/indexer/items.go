package indexer

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Items is one normalized batch as produced by a block source adapter.
type Items struct {
	Blocks       []*Block       `json:"blocks"`
	Transactions []*Transaction `json:"transactions"`
	Transfers    []*Transfer    `json:"transfers"`
}

// Len is the total number of records across entities.
func (i *Items) Len() int {
	if i == nil {
		return 0
	}
	return len(i.Blocks) + len(i.Transactions) + len(i.Transfers)
}

// Append moves the records of other into i.
func (i *Items) Append(other *Items) {
	if other == nil {
		return
	}
	i.Blocks = append(i.Blocks, other.Blocks...)
	i.Transactions = append(i.Transactions, other.Transactions...)
	i.Transfers = append(i.Transfers, other.Transfers...)
}

// Stamp tags every record with its content-addressed item id and the ingestion time.
// Identical content always yields the same id, so re-exporting a range is idempotent
// for sinks keyed on item_id.
func (i *Items) Stamp(now time.Time) {
	now = now.UTC()
	for _, b := range i.Blocks {
		b.ItemID = ItemID(b.identity())
		b.IngestedAt = now
	}
	for _, t := range i.Transactions {
		t.ItemID = ItemID(t.identity())
		t.IngestedAt = now
	}
	for _, t := range i.Transfers {
		t.ItemID = ItemID(t.identity())
		t.IngestedAt = now
	}
}

// Filter returns the records belonging to the given block numbers.
func (i *Items) Filter(blocks map[uint64]struct{}) *Items {
	out := &Items{}
	for _, b := range i.Blocks {
		if _, ok := blocks[b.Number]; ok {
			out.Blocks = append(out.Blocks, b)
		}
	}
	for _, t := range i.Transactions {
		if _, ok := blocks[t.BlockNumber]; ok {
			out.Transactions = append(out.Transactions, t)
		}
	}
	for _, t := range i.Transfers {
		if _, ok := blocks[t.BlockNumber]; ok {
			out.Transfers = append(out.Transfers, t)
		}
	}
	return out
}

// BlockHashes indexes block hashes by number.
func (i *Items) BlockHashes() map[uint64]string {
	out := make(map[uint64]string, len(i.Blocks))
	for _, b := range i.Blocks {
		out[b.Number] = b.Hash
	}
	return out
}

// ItemID is the hex blake2b-256 digest of the unit-separator joined fields.
func ItemID(fields []string) string {
	sum := blake2b.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
