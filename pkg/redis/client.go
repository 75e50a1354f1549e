package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/chainetl/chainetl/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps go-redis and implements the work queue backend on Redis streams.
type Client struct {
	client redis.UniversalClient
	logger *zap.Logger
}

var _ queue.Backend = (*Client)(nil)

// NewClient creates a Redis client from the environment:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	logger = logging.OrNop(logger)
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout: 5 * time.Second,
		// Blocking stream reads hold a connection for their block duration; go-redis
		// extends the read deadline by the block time on XREADGROUP.
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))
	return NewFromUniversal(rdb, logger), nil
}

// NewFromUniversal wraps an existing go-redis client.
func NewFromUniversal(rdb redis.UniversalClient, logger *zap.Logger) *Client {
	return &Client{client: rdb, logger: logging.OrNop(logger)}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// EnsureGroup creates the group at the stream tail ("$"), creating the stream if needed.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// publishOnce sets the dedupe key and appends the entry in one atomic step.
// KEYS[1] stream, KEYS[2] dedupe key; ARGV: field, value, ttl ms, maxlen (0 = unbounded).
var publishOnce = redis.NewScript(`
if not redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[3]) then
  return false
end
if tonumber(ARGV[4]) > 0 then
  return redis.call('XADD', KEYS[1], 'MAXLEN', '~', ARGV[4], '*', ARGV[1], ARGV[2])
end
return redis.call('XADD', KEYS[1], '*', ARGV[1], ARGV[2])
`)

func (c *Client) PublishOnce(ctx context.Context, stream, dedupeKey string, ttl time.Duration, maxLen int64, key, value string) (bool, error) {
	_, err := publishOnce.Run(ctx, c.client, []string{stream, dedupeKey}, key, value, ttl.Milliseconds(), maxLen).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Read(ctx context.Context, stream, group, consumer string, block time.Duration) (*queue.Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, s := range streams {
		for _, m := range s.Messages {
			msg := toMessage(m)
			return &msg, nil
		}
	}
	return nil, nil
}

func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, cursor string, count int64) ([]queue.Message, string, error) {
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    cursor,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, cursor, err
	}
	out := make([]queue.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, next, nil
}

func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	return c.client.XAck(ctx, stream, group, id).Err()
}

func (c *Client) MarkHandled(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Set(ctx, key, "1", ttl).Err()
}

func (c *Client) IsHandled(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// toMessage reads the single key/value field of a work unit entry.
func toMessage(m redis.XMessage) queue.Message {
	msg := queue.Message{ID: m.ID}
	for k, v := range m.Values {
		msg.Key = k
		switch val := v.(type) {
		case string:
			msg.Value = val
		case []byte:
			msg.Value = string(val)
		default:
			msg.Value = fmt.Sprint(val)
		}
		break
	}
	return msg
}
