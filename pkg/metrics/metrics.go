// Package metrics holds the Prometheus collectors shared by the streamer, queue,
// balance engine and reorg reconciler. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CheckpointBlock *prometheus.GaugeVec
	FrontierBlock   *prometheus.GaugeVec
	Cycles          *prometheus.CounterVec
	ExportedItems   *prometheus.CounterVec
	ExportDuration  *prometheus.HistogramVec
	Consistency     *prometheus.CounterVec

	QueuePublished *prometheus.CounterVec
	QueueHandled   *prometheus.CounterVec

	BalanceSnapshots *prometheus.CounterVec
	BalanceExcluded  *prometheus.CounterVec
	PriorFetch       *prometheus.HistogramVec

	ReorgRuns      *prometheus.CounterVec
	ReorgDivergent *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckpointBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "chainetl_checkpoint_block", Help: "Last synced block"},
			[]string{"chain"},
		),
		FrontierBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "chainetl_frontier_block", Help: "Most recent block reported by the source"},
			[]string{"chain"},
		),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_stream_cycles_total", Help: "Streamer cycles by outcome"},
			[]string{"chain", "outcome"},
		),
		ExportedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_exported_items_total", Help: "Records written to sinks"},
			[]string{"chain", "entity"},
		),
		ExportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "chainetl_export_duration_seconds", Help: "export_all latency", Buckets: prometheus.DefBuckets},
			[]string{"chain"},
		),
		Consistency: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_consistency_mismatches_total", Help: "Expected-vs-actual row count mismatches"},
			[]string{"chain", "mode"},
		),
		QueuePublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_queue_published_total", Help: "Work units offered to the queue"},
			[]string{"group", "outcome"},
		),
		QueueHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_queue_handled_total", Help: "Work units processed by consumers"},
			[]string{"group", "outcome"},
		),
		BalanceSnapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_balance_snapshots_total", Help: "Balance snapshots emitted"},
			[]string{"chain"},
		),
		BalanceExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_balance_excluded_total", Help: "Snapshots dropped because a newer prior already exists"},
			[]string{"chain"},
		),
		PriorFetch: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "chainetl_balance_prior_fetch_seconds", Help: "Prior snapshot fan-out latency", Buckets: prometheus.DefBuckets},
			[]string{"chain"},
		),
		ReorgRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_reorg_runs_total", Help: "Reconciliation runs by outcome"},
			[]string{"chain", "outcome"},
		),
		ReorgDivergent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chainetl_reorg_divergent_blocks_total", Help: "Blocks found divergent and repaired"},
			[]string{"chain"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.CheckpointBlock, m.FrontierBlock, m.Cycles, m.ExportedItems, m.ExportDuration, m.Consistency,
			m.QueuePublished, m.QueueHandled,
			m.BalanceSnapshots, m.BalanceExcluded, m.PriorFetch,
			m.ReorgRuns, m.ReorgDivergent,
		)
	}
	return m
}

func (m *Metrics) SetCheckpoint(chain string, block int64) {
	if m == nil {
		return
	}
	m.CheckpointBlock.WithLabelValues(chain).Set(float64(block))
}

func (m *Metrics) SetFrontier(chain string, block uint64) {
	if m == nil {
		return
	}
	m.FrontierBlock.WithLabelValues(chain).Set(float64(block))
}

func (m *Metrics) Cycle(chain, outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(chain, outcome).Inc()
}

func (m *Metrics) Exported(chain, entity string, n int, took time.Duration) {
	if m == nil {
		return
	}
	m.ExportedItems.WithLabelValues(chain, entity).Add(float64(n))
	if took > 0 {
		m.ExportDuration.WithLabelValues(chain).Observe(took.Seconds())
	}
}

func (m *Metrics) ConsistencyMismatch(chain, mode string) {
	if m == nil {
		return
	}
	m.Consistency.WithLabelValues(chain, mode).Inc()
}

func (m *Metrics) Published(group, outcome string) {
	if m == nil {
		return
	}
	m.QueuePublished.WithLabelValues(group, outcome).Inc()
}

func (m *Metrics) Handled(group, outcome string) {
	if m == nil {
		return
	}
	m.QueueHandled.WithLabelValues(group, outcome).Inc()
}

func (m *Metrics) Balances(chain string, emitted, excluded int, fetch time.Duration) {
	if m == nil {
		return
	}
	m.BalanceSnapshots.WithLabelValues(chain).Add(float64(emitted))
	m.BalanceExcluded.WithLabelValues(chain).Add(float64(excluded))
	m.PriorFetch.WithLabelValues(chain).Observe(fetch.Seconds())
}

func (m *Metrics) Reorg(chain, outcome string, divergent int) {
	if m == nil {
		return
	}
	m.ReorgRuns.WithLabelValues(chain, outcome).Inc()
	m.ReorgDivergent.WithLabelValues(chain).Add(float64(divergent))
}
