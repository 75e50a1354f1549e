package balancer

import (
	"testing"
	"time"

	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CHAIN_ID", "btc")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "btc", cfg.Queue.Pipeline)
	require.Equal(t, "balances", cfg.Queue.Stage)
	require.Equal(t, queue.DefaultIdleTimeout, cfg.Queue.IdleTimeout)
	require.Equal(t, int64(queue.DefaultReclaimBatch), cfg.Queue.ReclaimBatch)
	require.Equal(t, queue.DefaultHandledTTL, cfg.Queue.HandledTTL)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 16, cfg.FetchWorkers)
	require.Equal(t, time.Minute, cfg.FetchTimeout)
	require.False(t, cfg.TrackFees)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "eth")
	t.Setenv("QUEUE_PIPELINE", "mainnet")
	t.Setenv("QUEUE_STAGE", "holders")
	t.Setenv("QUEUE_CONCURRENCY", "12")
	t.Setenv("QUEUE_IDLE_TIMEOUT", "90")
	t.Setenv("BALANCE_FETCH_TIMEOUT", "15s")
	t.Setenv("TRACK_FEES", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "mainnet", cfg.Queue.Pipeline)
	require.Equal(t, "holders", cfg.Queue.Stage)
	require.Equal(t, 12, cfg.Concurrency)
	require.Equal(t, 90*time.Second, cfg.Queue.IdleTimeout)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout)
	require.True(t, cfg.TrackFees)
}

func TestLoadConfigRequiresChain(t *testing.T) {
	t.Setenv("CHAIN_ID", "")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "CHAIN_ID")
}
