package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainetl/chainetl/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

// rpcServer answers every JSON-RPC request with handler(method, params).
func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *Error)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		answer := func(req Request, params []json.RawMessage) map[string]any {
			result, rpcErr := handler(req.Method, params)
			out := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if rpcErr != nil {
				out["error"] = rpcErr
			} else {
				out["result"] = result
			}
			return out
		}
		type wireReq struct {
			Request
			Params []json.RawMessage `json:"params"`
		}

		w.Header().Set("Content-Type", "application/json")
		if len(raw) > 0 && raw[0] == '[' {
			var reqs []wireReq
			require.NoError(t, json.Unmarshal(raw, &reqs))
			// Reverse order: clients must match by id.
			out := make([]map[string]any, 0, len(reqs))
			for i := len(reqs) - 1; i >= 0; i-- {
				out = append(out, answer(reqs[i].Request, reqs[i].Params))
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		var req wireReq
		require.NoError(t, json.Unmarshal(raw, &req))
		_ = json.NewEncoder(w).Encode(answer(req.Request, req.Params))
	}))
}

func TestHTTPClient_CallDecodesResult(t *testing.T) {
	server := rpcServer(t, func(method string, _ []json.RawMessage) (any, *Error) {
		assert.Equal(t, "getblockcount", method)
		return 812345, nil
	})
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, Retry: fastRetry()})
	count, err := NewUTXONode(client).BlockCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(812345), count)
}

func TestHTTPClient_RPCErrorIsReturned(t *testing.T) {
	server := rpcServer(t, func(string, []json.RawMessage) (any, *Error) {
		return nil, &Error{Code: -8, Message: "Block height out of range"}
	})
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, Retry: fastRetry()})
	_, err := NewUTXONode(client).BlockHash(context.Background(), 99)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -8, rpcErr.Code)
}

func TestHTTPClient_NullResultIsNotFound(t *testing.T) {
	server := rpcServer(t, func(string, []json.RawMessage) (any, *Error) { return nil, nil })
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, Retry: fastRetry()})
	_, err := NewAccountNode(client).BlockByNumber(context.Background(), 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_FailsOverAndRetries(t *testing.T) {
	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	good := rpcServer(t, func(string, []json.RawMessage) (any, *Error) { return "0x10", nil })
	defer good.Close()

	client := NewHTTPWithOpts(Opts{
		Endpoints:       []string{bad.URL, good.URL},
		BreakerFailures: 1,
		BreakerCooldown: time.Minute,
		Retry:           fastRetry(),
		Logger:          zaptest.NewLogger(t),
	})
	node := NewAccountNode(client)

	n, err := node.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)

	// Breaker is open now: the bad endpoint is skipped.
	_, err = node.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), badHits.Load())
}

func TestHTTPClient_ExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, BreakerFailures: 100, Retry: fastRetry()})
	err := client.Call(context.Background(), "eth_blockNumber", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPClient_NoEndpointsIsPermanent(t *testing.T) {
	client := NewHTTPWithOpts(Opts{Retry: fastRetry()})
	err := client.Call(context.Background(), "x", nil, nil)
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestHTTPClient_BatchCallMatchesIDs(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) (any, *Error) {
		var height uint64
		require.NoError(t, json.Unmarshal(params[0], &height))
		return map[uint64]string{1: "h1", 2: "h2", 3: "h3"}[height], nil
	})
	defer server.Close()

	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, Retry: fastRetry()})
	resps, err := client.BatchCall(context.Background(), []Request{
		{Method: "getblockhash", Params: []any{1}},
		{Method: "getblockhash", Params: []any{2}},
		{Method: "getblockhash", Params: []any{3}},
	})
	require.NoError(t, err)
	require.Len(t, resps, 3)

	var got []string
	for _, r := range resps {
		var h string
		require.NoError(t, r.Decode(&h))
		got = append(got, h)
	}
	assert.Equal(t, []string{"h1", "h2", "h3"}, got)
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := rpcServer(t, func(string, []json.RawMessage) (any, *Error) { return 1, nil })
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewHTTPWithOpts(Opts{Endpoints: []string{server.URL}, Retry: fastRetry()})
	err := client.Call(ctx, "getblockcount", nil, nil)
	require.True(t, errors.Is(err, context.Canceled))
}
