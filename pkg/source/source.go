// Package source defines the block source and sink contracts the streamer drives, and
// the UTXO and account chain adapters that implement them.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
)

// Frontier is the most recent block a source knows about. Timestamp is zero when the
// source cannot report it cheaply.
type Frontier struct {
	Number    uint64
	Timestamp time.Time
}

// BlockSourceAdapter fetches, normalizes and exports block ranges.
type BlockSourceAdapter interface {
	Open(ctx context.Context) error
	Close() error
	CurrentBlock(ctx context.Context) (Frontier, error)
	// ExportAll exports [start, end] inclusive. It either fully succeeds or returns an error.
	ExportAll(ctx context.Context, start, end uint64) error
}

// ItemSink durably persists normalized records.
type ItemSink interface {
	Open(ctx context.Context) error
	ExportItems(ctx context.Context, items *indexermodels.Items) (int, error)
	Close() error
}

// Fetcher returns canonical data for a range without writing it anywhere.
type Fetcher interface {
	FetchRange(ctx context.Context, start, end uint64) (*indexermodels.Items, error)
}

// Publisher hands a pointer to exported data to the next pipeline stage.
// It reports false when the key was already published within the dedupe window.
type Publisher interface {
	Publish(ctx context.Context, key, value string) (bool, error)
}

// BatchRef is the payload of a work unit: the inclusive block range a stage should load.
type BatchRef struct {
	Chain string `json:"chain"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Key is the logical dedupe key of the unit, the batch's last block.
func (b BatchRef) Key() string {
	return strconv.FormatUint(b.End, 10)
}

func (b BatchRef) Encode() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeBatchRef(value string) (BatchRef, error) {
	var b BatchRef
	if err := json.Unmarshal([]byte(value), &b); err != nil {
		return BatchRef{}, fmt.Errorf("decode batch ref: %w", err)
	}
	if b.End < b.Start {
		return BatchRef{}, fmt.Errorf("decode batch ref: end %d before start %d", b.End, b.Start)
	}
	return b, nil
}

// ConsistencyError reports that two derived views of the same block disagree on row counts.
type ConsistencyError struct {
	Block    uint64
	Entity   string
	Expected int
	Actual   int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("block %d: expected %d %s, exported %d", e.Block, e.Expected, e.Entity, e.Actual)
}
