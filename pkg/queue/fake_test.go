package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

// memoryBackend is an in-process stand-in for a Redis stream with one consumer group.
type memoryBackend struct {
	mu       sync.Mutex
	entries  []Message
	groups   map[string]int // next undelivered index per group
	pending  map[string]*pendingEntry
	acked    map[string]int
	markers  map[string]time.Time
	now      func() time.Time
	seq      int
	readWait time.Duration
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		groups:   map[string]int{},
		pending:  map[string]*pendingEntry{},
		acked:    map[string]int{},
		markers:  map[string]time.Time{},
		now:      time.Now,
		readWait: time.Millisecond,
	}
}

func (m *memoryBackend) EnsureGroup(_ context.Context, _, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group]; !ok {
		m.groups[group] = len(m.entries)
	}
	return nil
}

func (m *memoryBackend) PublishOnce(_ context.Context, _, dedupeKey string, ttl time.Duration, _ int64, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.markers[dedupeKey]; ok && m.now().Before(exp) {
		return false, nil
	}
	m.markers[dedupeKey] = m.now().Add(ttl)
	m.seq++
	m.entries = append(m.entries, Message{ID: strconv.Itoa(m.seq) + "-0", Key: key, Value: value})
	return true, nil
}

func (m *memoryBackend) Read(ctx context.Context, _, group, consumer string, _ time.Duration) (*Message, error) {
	m.mu.Lock()
	next := m.groups[group]
	if next < len(m.entries) {
		msg := m.entries[next]
		m.groups[group] = next + 1
		m.pending[msg.ID] = &pendingEntry{consumer: consumer, deliveredAt: m.now(), deliveries: 1}
		m.mu.Unlock()
		return &msg, nil
	}
	m.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.readWait):
		return nil, nil
	}
}

func (m *memoryBackend) Claim(_ context.Context, _, _, consumer string, minIdle time.Duration, _ string, count int64) ([]Message, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.entries {
		p, ok := m.pending[msg.ID]
		if !ok || m.now().Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = m.now()
		p.deliveries++
		out = append(out, msg)
		if int64(len(out)) >= count {
			break
		}
	}
	return out, "0-0", nil
}

func (m *memoryBackend) Ack(_ context.Context, _, _, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; ok {
		delete(m.pending, id)
		m.acked[id]++
	}
	return nil
}

func (m *memoryBackend) MarkHandled(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[key] = m.now().Add(ttl)
	return nil
}

func (m *memoryBackend) IsHandled(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.markers[key]
	return ok && m.now().Before(exp), nil
}

func (m *memoryBackend) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *memoryBackend) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// pagedBackend returns one empty page with a live cursor before serving claims, the way
// XAUTOCLAIM does partway through a large pending list.
type pagedBackend struct {
	*memoryBackend
	mu      sync.Mutex
	cursors []string
}

func (p *pagedBackend) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, cursor string, count int64) ([]Message, string, error) {
	p.mu.Lock()
	p.cursors = append(p.cursors, cursor)
	first := len(p.cursors) == 1
	p.mu.Unlock()
	if first {
		return nil, "5-0", nil
	}
	return p.memoryBackend.Claim(ctx, stream, group, consumer, minIdle, cursor, count)
}

func (p *pagedBackend) seenCursors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cursors...)
}
