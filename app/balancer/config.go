package balancer

import (
	"fmt"
	"time"

	"github.com/chainetl/chainetl/pkg/queue"
	"github.com/chainetl/chainetl/pkg/utils"
)

type Config struct {
	ChainID string

	Queue       queue.Config
	Concurrency int

	FetchWorkers int
	FetchTimeout time.Duration
	TrackFees    bool

	StatusAddr string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ChainID: utils.Env("CHAIN_ID", ""),
		Queue: queue.Config{
			Pipeline:       utils.Env("QUEUE_PIPELINE", ""),
			Stage:          utils.Env("QUEUE_STAGE", "balances"),
			ConsumerPrefix: utils.Env("QUEUE_CONSUMER_PREFIX", "worker"),
			IdleTimeout:    utils.EnvDuration("QUEUE_IDLE_TIMEOUT", queue.DefaultIdleTimeout),
			ReclaimBatch:   int64(utils.EnvInt("QUEUE_RECLAIM_BATCH", queue.DefaultReclaimBatch)),
			HandledTTL:     utils.EnvDuration("HANDLED_TTL", queue.DefaultHandledTTL),
		},
		Concurrency:  utils.EnvInt("QUEUE_CONCURRENCY", 4),
		FetchWorkers: utils.EnvInt("BALANCE_FETCH_WORKERS", 16),
		FetchTimeout: utils.EnvDuration("BALANCE_FETCH_TIMEOUT", 60*time.Second),
		TrackFees:    utils.EnvBool("TRACK_FEES", false),
		StatusAddr:   utils.Env("STATUS_ADDR", ":3011"),
	}
	if cfg.Queue.Pipeline == "" {
		cfg.Queue.Pipeline = cfg.ChainID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("CHAIN_ID is required")
	}
	if c.Queue.Stage == "" {
		return fmt.Errorf("QUEUE_STAGE is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1")
	}
	return nil
}
