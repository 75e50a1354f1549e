package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainetl/chainetl/pkg/retry"
	"github.com/chainetl/chainetl/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClient is a JSON-RPC 2.0 client over HTTP with a per-endpoint circuit breaker,
// a shared rate limiter and retry with backoff for transport failures.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
	limiter   *rate.Limiter
	retry     retry.Config
	logger    *zap.Logger
	nextID    atomic.Uint64

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	Retry           *retry.Config
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}
	retryCfg := retry.Config{
		MaxRetries:    5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		JitterEnabled: true,
	}
	if o.Retry != nil {
		retryCfg = *o.Retry
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	return &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		limiter:          rate.NewLimiter(rate.Limit(o.RPS), o.Burst),
		retry:            retryCfg,
		logger:           logger,
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
}

// isOpen returns true while the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure opens the breaker once the failure count reaches the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// Call invokes one JSON-RPC method and decodes its result into out.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any, out any) error {
	req := Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	var resp Response
	err := retry.WithBackoff(ctx, c.retry, c.logger, "rpc."+method, func() error {
		return c.doJSON(ctx, req, &resp)
	})
	if err != nil {
		return err
	}
	return resp.decode(method, out)
}

// BatchCall sends requests as one JSON-RPC batch. Responses are returned in request order.
func (c *HTTPClient) BatchCall(ctx context.Context, reqs []Request) ([]Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	for i := range reqs {
		reqs[i].JSONRPC = "2.0"
		reqs[i].ID = c.nextID.Add(1)
	}

	var raw []Response
	err := retry.WithBackoff(ctx, c.retry, c.logger, "rpc.batch", func() error {
		raw = raw[:0]
		return c.doJSON(ctx, reqs, &raw)
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[uint64]Response, len(raw))
	for _, r := range raw {
		byID[r.ID] = r
	}
	out := make([]Response, len(reqs))
	for i, req := range reqs {
		r, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("batch response missing id %d (%s)", req.ID, req.Method)
		}
		out[i] = r
	}
	return out, nil
}

// doJSON posts payload to the first healthy endpoint and decodes the body into out.
// Endpoint and 5xx failures move on to the next endpoint; when none succeed the last
// error is returned for the caller's retry loop.
func (c *HTTPClient) doJSON(ctx context.Context, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return retry.Permanent(errors.New("no endpoints configured"))
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(err)
	}

	lastErr := errors.New("all endpoints unavailable")
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(b))
		if reqErr != nil {
			return retry.Permanent(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%s: server %d", ep, resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("%s: http %d", ep, resp.StatusCode)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		decErr := json.NewDecoder(resp.Body).Decode(out)
		_ = utils.DrainAndClose(resp.Body)
		if decErr != nil {
			lastErr = fmt.Errorf("%s: decode: %w", ep, decErr)
			c.noteFailure(ep)
			continue
		}
		c.noteSuccess(ep)
		return nil
	}

	return lastErr
}
