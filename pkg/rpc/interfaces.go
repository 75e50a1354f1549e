package rpc

import "context"

// Caller is the transport surface the chain clients build on.
type Caller interface {
	Call(ctx context.Context, method string, params []any, out any) error
	BatchCall(ctx context.Context, reqs []Request) ([]Response, error)
}

// UTXOClient is the node surface used by the UTXO chain adapter.
type UTXOClient interface {
	BlockCount(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (string, error)
	Block(ctx context.Context, hash string) (*UTXOBlock, error)
	BlockHeader(ctx context.Context, hash string) (*UTXOHeader, error)
}

// AccountClient is the node surface used by the account chain adapter.
type AccountClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*AccountBlock, error)
	BlockReceipts(ctx context.Context, number uint64) ([]AccountReceipt, error)
}

var (
	_ Caller        = (*HTTPClient)(nil)
	_ UTXOClient    = (*UTXONode)(nil)
	_ AccountClient = (*AccountNode)(nil)
)
