package streamer

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chainetl/chainetl/pkg/db/entities"
	streaming "github.com/chainetl/chainetl/pkg/streamer"
	"github.com/chainetl/chainetl/pkg/utils"
)

const (
	ChainKindUTXO    = "utxo"
	ChainKindAccount = "account"

	SinkClickHouse = "clickhouse"
	SinkPostgres   = "postgres"
)

// Config is the streamer process configuration, read from the environment.
type Config struct {
	ChainID      string
	ChainKind    string
	RPCEndpoints []string
	RPCRPS       int

	Streamer streaming.Config

	ExportWorkers   int
	AllowIncomplete bool
	CheckpointPath  string
	QuarantinePath  string
	Sinks           []string

	// PublishPipeline and PublishStage name the balance queue group. They default to the
	// balancer's CHAIN_ID and "balances"; PUBLISH_BALANCES=false leaves the pipeline empty
	// and disables publishing.
	PublishPipeline string
	PublishStage    string

	ReorgLookback uint64
	ReorgCron     string
	// ReorgEntities narrows the tables a repair rewrites. Empty means every block-scoped one.
	ReorgEntities []entities.Entity

	MarkerTTL  time.Duration
	StatusAddr string
}

// LoadConfig reads the streamer environment. Values that cannot be parsed are errors
// rather than silent defaults.
func LoadConfig() (*Config, error) {
	policy, err := streaming.ParsePolicy(utils.Env("FAILURE_POLICY", string(streaming.PolicyRetry)))
	if err != nil {
		return nil, err
	}
	start, err := streaming.ParseStartBlock(utils.Env("START_BLOCK", "latest"))
	if err != nil {
		return nil, err
	}

	reorgEntities, err := entities.ParseList(utils.Env("REORG_ENTITIES", ""))
	if err != nil {
		return nil, err
	}

	var end *uint64
	if v := strings.TrimSpace(os.Getenv("END_BLOCK")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid END_BLOCK %q: %w", v, err)
		}
		end = &n
	}

	cfg := &Config{
		ChainID:      utils.Env("CHAIN_ID", ""),
		ChainKind:    strings.ToLower(utils.Env("CHAIN_KIND", ChainKindUTXO)),
		RPCEndpoints: utils.EnvList("RPC_ENDPOINTS", nil),
		RPCRPS:       utils.EnvInt("RPC_RPS", 20),
		Streamer: streaming.Config{
			Lag:           utils.EnvUint64("LAG", 0),
			BatchSize:     utils.EnvUint64("BATCH_SIZE", 100),
			StartBlock:    start,
			EndBlock:      end,
			PollInterval:  utils.EnvDuration("POLL_INTERVAL", 10*time.Second),
			RetryInterval: utils.EnvDuration("RETRY_INTERVAL", 5*time.Second),
			Policy:        policy,
		},
		ExportWorkers:   utils.EnvInt("EXPORT_WORKERS", 8),
		AllowIncomplete: utils.EnvBool("ALLOW_INCOMPLETE", false),
		CheckpointPath:  utils.Env("CHECKPOINT_PATH", "checkpoint.txt"),
		QuarantinePath:  utils.Env("QUARANTINE_PATH", ""),
		Sinks:           utils.EnvList("SINK", []string{SinkClickHouse}),
		PublishStage:    utils.Env("PUBLISH_STAGE", "balances"),
		ReorgLookback:   utils.EnvUint64("REORG_LOOKBACK", 0),
		ReorgCron:       utils.Env("REORG_CRON", ""),
		ReorgEntities:   reorgEntities,
		MarkerTTL:       utils.EnvDuration("LIVENESS_TTL", 30*time.Second),
		StatusAddr:      utils.Env("STATUS_ADDR", ":3010"),
	}
	cfg.Streamer.Chain = cfg.ChainID
	if utils.EnvBool("PUBLISH_BALANCES", true) {
		cfg.PublishPipeline = utils.Env("PUBLISH_PIPELINE", cfg.ChainID)
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
	if c.ChainKind != ChainKindUTXO && c.ChainKind != ChainKindAccount {
		return fmt.Errorf("unknown CHAIN_KIND %q", c.ChainKind)
	}
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("RPC_ENDPOINTS is required")
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("SINK must name at least one sink")
	}
	for _, s := range c.Sinks {
		if s != SinkClickHouse && s != SinkPostgres {
			return fmt.Errorf("unknown sink %q", s)
		}
	}
	if c.Streamer.Policy == streaming.PolicyQuarantine && c.QuarantinePath == "" {
		return fmt.Errorf("FAILURE_POLICY=quarantine requires QUARANTINE_PATH")
	}
	if c.ReorgCron != "" && c.ReorgLookback == 0 {
		return fmt.Errorf("REORG_CRON requires REORG_LOOKBACK")
	}
	for _, e := range c.ReorgEntities {
		if !slices.Contains(entities.BlockScoped(), e) {
			return fmt.Errorf("REORG_ENTITIES: %s is not stored per block", e)
		}
	}
	if c.PublishPipeline != "" && c.PublishStage == "" {
		return fmt.Errorf("PUBLISH_STAGE is required when PUBLISH_PIPELINE is set")
	}
	return nil
}

// Primary is the sink that serves reads: block hashes for reorg checks.
func (c *Config) Primary() string {
	return c.Sinks[0]
}
