package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.SetCheckpoint("btc", 10)
		m.Cycle("btc", "synced")
		m.Exported("btc", "blocks", 3, time.Second)
		m.Balances("btc", 1, 1, time.Millisecond)
		m.Reorg("btc", "repaired", 2)
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetCheckpoint("btc", 105)
	m.Cycle("btc", "synced")
	m.Cycle("btc", "synced")
	m.Reorg("btc", "repaired", 3)

	require.Equal(t, 105.0, testutil.ToFloat64(m.CheckpointBlock.WithLabelValues("btc")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Cycles.WithLabelValues("btc", "synced")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ReorgDivergent.WithLabelValues("btc")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
