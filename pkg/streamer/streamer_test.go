package streamer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chainetl/chainetl/pkg/checkpoint"
	"github.com/chainetl/chainetl/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAdapter struct {
	mu        sync.Mutex
	frontier  uint64
	exported  [][2]uint64
	failNext  int
	panicNext bool
	opened    bool
	closed    bool
}

func (a *fakeAdapter) Open(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = true
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) CurrentBlock(context.Context) (source.Frontier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return source.Frontier{Number: a.frontier}, nil
}

func (a *fakeAdapter) ExportAll(_ context.Context, start, end uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panicNext {
		a.panicNext = false
		panic("adapter bug")
	}
	if a.failNext > 0 {
		a.failNext--
		return errors.New("rpc exhausted")
	}
	a.exported = append(a.exported, [2]uint64{start, end})
	return nil
}

func (a *fakeAdapter) ranges() [][2]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][2]uint64(nil), a.exported...)
}

type fakeMarker struct {
	acquired, released int
}

func (m *fakeMarker) Acquire(context.Context) error { m.acquired++; return nil }
func (m *fakeMarker) Release(context.Context) error { m.released++; return nil }

func u64(v uint64) *uint64 { return &v }

func newFixture(t *testing.T, cfg Config, adapter *fakeAdapter, opts Options) (*Streamer, *checkpoint.File) {
	t.Helper()
	cp := checkpoint.NewFile(filepath.Join(t.TempDir(), "checkpoint"))
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	s, err := New(cfg, adapter, cp, opts)
	require.NoError(t, err)
	return s, cp
}

func TestComputeTarget(t *testing.T) {
	tests := []struct {
		name       string
		frontier   uint64
		lag        uint64
		checkpoint int64
		batch      uint64
		end        *uint64
		want       int64
		ok         bool
	}{
		{"batch bound", 1000, 10, 99, 100, nil, 199, true},
		{"lag bound", 150, 10, 99, 100, nil, 140, true},
		{"end bound", 1000, 10, 99, 100, u64(120), 120, true},
		{"caught up", 109, 10, 99, 100, nil, 99, false},
		{"frontier below lag", 5, 10, -1, 100, nil, -1, false},
		{"first block", 0, 0, -1, 100, nil, 0, true},
		{"past end", 1000, 0, 120, 100, u64(120), 120, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputeTarget(tt.frontier, tt.lag, tt.checkpoint, tt.batch, tt.end)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParsers(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRetry, p)
	p, err = ParsePolicy("Quarantine")
	require.NoError(t, err)
	assert.Equal(t, PolicyQuarantine, p)
	_, err = ParsePolicy("ignore")
	require.Error(t, err)

	n, err := ParseStartBlock("latest")
	require.NoError(t, err)
	assert.Equal(t, StartLatest, n)
	n, err = ParseStartBlock("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	_, err = ParseStartBlock("-3")
	require.Error(t, err)
}

func TestInitSeedsCheckpoint(t *testing.T) {
	s, cp := newFixture(t, Config{StartBlock: 100}, &fakeAdapter{frontier: 500}, Options{})
	require.NoError(t, s.Init(context.Background()))
	got, ok, err := cp.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(99), got)

	s, cp = newFixture(t, Config{StartBlock: StartLatest, Lag: 6}, &fakeAdapter{frontier: 500}, Options{})
	require.NoError(t, s.Init(context.Background()))
	got, _, _ = cp.Load()
	assert.Equal(t, int64(493), got)

	s, cp = newFixture(t, Config{StartBlock: 0}, &fakeAdapter{}, Options{})
	require.NoError(t, s.Init(context.Background()))
	got, _, _ = cp.Load()
	assert.Equal(t, int64(-1), got)
}

func TestInitResumesOrRejects(t *testing.T) {
	s, cp := newFixture(t, Config{StartBlock: 100}, &fakeAdapter{frontier: 500}, Options{})
	require.NoError(t, cp.Save(150))
	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, int64(150), s.Checkpoint())

	s, cp = newFixture(t, Config{StartBlock: 100}, &fakeAdapter{frontier: 500}, Options{})
	require.NoError(t, cp.Save(99))
	require.NoError(t, s.Init(context.Background()))

	s, cp = newFixture(t, Config{StartBlock: 300}, &fakeAdapter{frontier: 500}, Options{})
	require.NoError(t, cp.Save(150))
	var cfgErr *ConfigError
	require.ErrorAs(t, s.Init(context.Background()), &cfgErr)
}

func TestRunToEndBlock(t *testing.T) {
	adapter := &fakeAdapter{frontier: 1000}
	marker := &fakeMarker{}
	s, cp := newFixture(t, Config{StartBlock: 10, Lag: 5, BatchSize: 25, EndBlock: u64(100)}, adapter, Options{Marker: marker})

	require.NoError(t, s.Run(context.Background()))

	ranges := adapter.ranges()
	require.NotEmpty(t, ranges)
	assert.Equal(t, uint64(10), ranges[0][0])
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1][1]+1, ranges[i][0])
		assert.LessOrEqual(t, ranges[i][1]-ranges[i][0]+1, uint64(25))
	}
	assert.Equal(t, uint64(100), ranges[len(ranges)-1][1])

	got, _, _ := cp.Load()
	assert.Equal(t, int64(100), got)
	assert.Equal(t, 1, marker.acquired)
	assert.Equal(t, 1, marker.released)
	assert.True(t, adapter.opened)
	assert.True(t, adapter.closed)
	assert.False(t, s.Status().(Status).Running)
}

func TestRunNeverPassesFrontierMinusLag(t *testing.T) {
	adapter := &fakeAdapter{frontier: 60}
	s, _ := newFixture(t, Config{StartBlock: 0, Lag: 10, BatchSize: 7}, adapter, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Checkpoint() == 50 }, 5*time.Second, time.Millisecond)
	// Idle cycles while the chain does not move.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(50), s.Checkpoint())

	adapter.mu.Lock()
	adapter.frontier = 75
	adapter.mu.Unlock()
	require.Eventually(t, func() bool { return s.Checkpoint() == 65 }, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	for _, r := range adapter.ranges() {
		assert.LessOrEqual(t, r[1], uint64(65))
	}
}

func TestBeforeCloseRunsWhileAdapterOpen(t *testing.T) {
	adapter := &fakeAdapter{frontier: 100}
	var closedAtHook, called bool
	s, _ := newFixture(t, Config{StartBlock: 0, BatchSize: 50, EndBlock: u64(60)}, adapter, Options{
		BeforeClose: func() {
			adapter.mu.Lock()
			defer adapter.mu.Unlock()
			called, closedAtHook = true, adapter.closed
		},
	})

	require.NoError(t, s.Run(context.Background()))
	assert.True(t, called)
	assert.False(t, closedAtHook)
	assert.True(t, adapter.closed)
}

func TestRetryPolicyKeepsCheckpoint(t *testing.T) {
	adapter := &fakeAdapter{frontier: 100, failNext: 3}
	s, _ := newFixture(t, Config{StartBlock: 0, BatchSize: 50, EndBlock: u64(49)}, adapter, Options{})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, [][2]uint64{{0, 49}}, adapter.ranges())
	st := s.Status().(Status)
	assert.Equal(t, uint64(3), st.Failures)
	assert.Empty(t, st.LastError)
}

func TestFailFastStops(t *testing.T) {
	adapter := &fakeAdapter{frontier: 100, failNext: 1}
	marker := &fakeMarker{}
	s, cp := newFixture(t, Config{StartBlock: 0, Policy: PolicyFailFast}, adapter, Options{Marker: marker})

	err := s.Run(context.Background())
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, uint64(0), rangeErr.Start)
	assert.Equal(t, uint64(99), rangeErr.End)

	got, _, _ := cp.Load()
	assert.Equal(t, int64(-1), got)
	assert.Equal(t, 1, marker.released)
	assert.True(t, adapter.closed)
}

func TestQuarantineAdvances(t *testing.T) {
	var buf bytes.Buffer
	adapter := &fakeAdapter{frontier: 100, failNext: 1}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, cp := newFixture(t, Config{Chain: "btc", StartBlock: 0, BatchSize: 10, EndBlock: u64(19), Policy: PolicyQuarantine},
		adapter, Options{Quarantine: NewQuarantineLog(&buf), Now: func() time.Time { return at }})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, [][2]uint64{{10, 19}}, adapter.ranges())
	got, _, _ := cp.Load()
	assert.Equal(t, int64(19), got)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec QuarantineRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "btc", rec.Chain)
	assert.Equal(t, uint64(0), rec.StartBlock)
	assert.Equal(t, uint64(9), rec.EndBlock)
	assert.Equal(t, "rpc exhausted", rec.Error)
	assert.True(t, rec.At.Equal(at))
	assert.Equal(t, uint64(1), s.Status().(Status).Quarantined)
}

func TestQuarantineRequiresLog(t *testing.T) {
	_, err := New(Config{Policy: PolicyQuarantine}, &fakeAdapter{}, checkpoint.NewFile(filepath.Join(t.TempDir(), "cp")), Options{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestPanicReleasesResources(t *testing.T) {
	adapter := &fakeAdapter{frontier: 100, panicNext: true}
	marker := &fakeMarker{}
	s, cp := newFixture(t, Config{StartBlock: 0}, adapter, Options{Marker: marker})

	assert.PanicsWithValue(t, "adapter bug", func() { _ = s.Run(context.Background()) })
	assert.Equal(t, 1, marker.released)
	assert.True(t, adapter.closed)
	got, _, _ := cp.Load()
	assert.Equal(t, int64(-1), got)
}

func TestCancelledRunReturnsNil(t *testing.T) {
	adapter := &fakeAdapter{frontier: 0}
	s, _ := newFixture(t, Config{StartBlock: 0, Lag: 10, PollInterval: time.Hour}, adapter, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("streamer did not stop")
	}
	assert.True(t, adapter.closed)
}
