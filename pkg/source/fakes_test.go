package source

import (
	"context"
	"fmt"
	"sync"

	indexermodels "github.com/chainetl/chainetl/pkg/db/models/indexer"
	"github.com/chainetl/chainetl/pkg/rpc"
)

type fakeUTXONode struct {
	mu      sync.Mutex
	tip     uint64
	blocks  map[uint64]*rpc.UTXOBlock
	failOn  map[uint64]error
	fetched []uint64
	// headerNTx overrides the header's transaction count per height.
	headerNTx map[uint64]int
}

func (f *fakeUTXONode) BlockCount(context.Context) (uint64, error) { return f.tip, nil }

func (f *fakeUTXONode) BlockHash(_ context.Context, height uint64) (string, error) {
	if err := f.failOn[height]; err != nil {
		return "", err
	}
	b, ok := f.blocks[height]
	if !ok {
		return "", rpc.ErrNotFound
	}
	return b.Hash, nil
}

func (f *fakeUTXONode) Block(_ context.Context, hash string) (*rpc.UTXOBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, b := range f.blocks {
		if b.Hash == hash {
			f.fetched = append(f.fetched, h)
			return b, nil
		}
	}
	return nil, rpc.ErrNotFound
}

func (f *fakeUTXONode) BlockHeader(_ context.Context, hash string) (*rpc.UTXOHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, b := range f.blocks {
		if b.Hash == hash {
			ntx, ok := f.headerNTx[h]
			if !ok {
				ntx = b.NTx
			}
			return &rpc.UTXOHeader{Hash: b.Hash, Height: h, NTx: ntx}, nil
		}
	}
	return nil, rpc.ErrNotFound
}

type fakeAccountNode struct {
	tip      uint64
	blocks   map[uint64]*rpc.AccountBlock
	receipts map[uint64][]rpc.AccountReceipt
}

func (f *fakeAccountNode) BlockNumber(context.Context) (uint64, error) { return f.tip, nil }

func (f *fakeAccountNode) BlockByNumber(_ context.Context, n uint64) (*rpc.AccountBlock, error) {
	b, ok := f.blocks[n]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return b, nil
}

func (f *fakeAccountNode) BlockReceipts(_ context.Context, n uint64) ([]rpc.AccountReceipt, error) {
	return f.receipts[n], nil
}

type fakeSink struct {
	mu      sync.Mutex
	opened  bool
	closed  bool
	batches []*indexermodels.Items
	err     error
}

func (s *fakeSink) Open(context.Context) error { s.opened = true; return nil }

func (s *fakeSink) ExportItems(_ context.Context, items *indexermodels.Items) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, items)
	return items.Len(), nil
}

func (s *fakeSink) Close() error { s.closed = true; return nil }

type fakePublisher struct {
	keys   []string
	values []string
	seen   map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, key, value string) (bool, error) {
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	if p.seen[key] {
		return false, nil
	}
	p.seen[key] = true
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return true, nil
}

func blockHash(n uint64) string { return fmt.Sprintf("h%d", n) }
