package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a node answers with a null result, e.g. for a block it
// has not seen yet.
var ErrNotFound = errors.New("not found")

type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Decode unmarshals the result of a batch response.
func (r Response) Decode(out any) error {
	return r.decode("batch", out)
}

func (r Response) decode(method string, out any) error {
	if r.Error != nil {
		return fmt.Errorf("%s: %w", method, r.Error)
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return fmt.Errorf("%s: %w", method, ErrNotFound)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Quantity is a 0x-prefixed hex number as used by account-chain nodes.
type Quantity string

// Big parses the quantity. An empty quantity is zero.
func (q Quantity) Big() (*big.Int, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(string(q), "0x"), "0X")
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", string(q))
	}
	return v, nil
}

func (q Quantity) Uint64() (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(string(q), "0x"), "0X")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

// QuantityOf formats n for request parameters.
func QuantityOf(n uint64) Quantity {
	return Quantity("0x" + strconv.FormatUint(n, 16))
}
