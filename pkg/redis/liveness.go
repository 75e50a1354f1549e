package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LivenessMarker advertises that an owner is running a task. It is refreshed in the
// background and removed on Release. It does not exclude a second owner.
type LivenessMarker struct {
	client *Client
	key    string
	owner  string
	ttl    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Client) NewLivenessMarker(key, owner string, ttl time.Duration) *LivenessMarker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LivenessMarker{client: c, key: key, owner: owner, ttl: ttl}
}

var (
	refreshIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
	deleteIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// Acquire sets the marker and starts refreshing it. If someone else holds the marker
// it logs who and carries on.
func (l *LivenessMarker) Acquire(ctx context.Context) error {
	ok, err := l.client.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		holder, err := l.client.client.Get(ctx, l.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		l.client.logger.Warn("Liveness marker held by another owner",
			zap.String("key", l.key),
			zap.String("holder", holder),
			zap.String("owner", l.owner))
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	refreshCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.refresh(refreshCtx, l.done)
	return nil
}

func (l *LivenessMarker) refresh(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := refreshIfOwner.Run(ctx, l.client.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Err()
			if err != nil && ctx.Err() == nil {
				l.client.logger.Warn("Failed to refresh liveness marker", zap.String("key", l.key), zap.Error(err))
			}
		}
	}
}

// Release stops refreshing and deletes the marker if this owner still holds it.
func (l *LivenessMarker) Release(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return deleteIfOwner.Run(ctx, l.client.client, []string{l.key}, l.owner).Err()
}
