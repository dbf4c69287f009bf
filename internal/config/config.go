// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/classify"
)

// EnvPrefix prefixes every environment override, e.g. LEADCRAWLER_DELIVERY_TOKEN.
const EnvPrefix = "LEADCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Server    ServerConfig    `mapstructure:"server"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
}

// LedgerConfig selects where the thread ledger lives.
type LedgerConfig struct {
	// Backend is one of local, memory, gcs, redis, postgres, sqlite.
	Backend     string         `mapstructure:"backend"`
	Path        string         `mapstructure:"path"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	PruneLimit  int            `mapstructure:"prune_limit"`
	GCS         GCSConfig      `mapstructure:"gcs"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	SQLite      SQLiteConfig   `mapstructure:"sqlite"`
}

// GCSConfig locates the ledger object.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// RedisConfig locates the ledger key.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PostgresConfig locates the ledger row.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	Name     string `mapstructure:"name"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteConfig locates the ledger row.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
}

// FetchConfig controls the plain HTTP fetcher.
type FetchConfig struct {
	UserAgent      string             `mapstructure:"user_agent"`
	AcceptLanguage string             `mapstructure:"accept_language"`
	RespectRobots  bool               `mapstructure:"respect_robots"`
	Timeout        time.Duration      `mapstructure:"timeout"`
	MaxBodySize    int                `mapstructure:"max_body_size"`
	RPS            float64            `mapstructure:"rps"`
	Burst          int                `mapstructure:"burst"`
	HostRPS        map[string]float64 `mapstructure:"host_rps"`
	// ForbiddenThreshold blocks a host for the run after this many 403s.
	ForbiddenThreshold int `mapstructure:"forbidden_threshold"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`
	BlockImages       bool          `mapstructure:"block_images"`
	// AutoPromote re-renders thread pages that look like script shells.
	AutoPromote        bool `mapstructure:"auto_promote"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// EnrichConfig controls the enrichment scheduler.
type EnrichConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	Politeness   time.Duration `mapstructure:"politeness"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DeliveryConfig selects the downstream transport.
type DeliveryConfig struct {
	// Transport is one of webhook, pubsub, kafka, memory.
	Transport string        `mapstructure:"transport"`
	Token     string        `mapstructure:"token"`
	Attempts  int           `mapstructure:"attempts"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Webhook   WebhookConfig `mapstructure:"webhook"`
	PubSub    PubSubConfig  `mapstructure:"pubsub"`
	Kafka     KafkaConfig   `mapstructure:"kafka"`
}

// WebhookConfig locates the HTTP consumer.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig selects brokers and topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ClassifyConfig overrides the scoring policy and rule table.
type ClassifyConfig struct {
	Weights              classify.Weights    `mapstructure:"weights"`
	High                 float64             `mapstructure:"high"`
	Low                  float64             `mapstructure:"low"`
	PrefilterFloor       float64             `mapstructure:"prefilter_floor"`
	StrongDemandOverride bool                `mapstructure:"strong_demand_override"`
	LabelOverride        bool                `mapstructure:"label_override"`
	LabelOverrideMin     float64             `mapstructure:"label_override_min"`
	Rules                []classify.RuleSpec `mapstructure:"rules"`
}

// DiscoveryConfig holds defaults shared by every source.
type DiscoveryConfig struct {
	Limit int `mapstructure:"limit"`
}

// ServerConfig controls the serve command.
type ServerConfig struct {
	Port     int           `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
	// APIKey guards /v1 routes when set.
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Delivery transports.
const (
	TransportWebhook = "webhook"
	TransportPubSub  = "pubsub"
	TransportKafka   = "kafka"
	TransportMemory  = "memory"
)

// Ledger backends.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	policy := classify.DefaultPolicy()
	w := policy.Weights

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "")

	v.SetDefault("ledger.backend", BackendLocal)
	v.SetDefault("ledger.path", "state.json")
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.prune_limit", 50_000)
	v.SetDefault("ledger.gcs.bucket", "")
	v.SetDefault("ledger.gcs.object", "ledger/state.json")
	v.SetDefault("ledger.redis.addr", "")
	v.SetDefault("ledger.redis.password", "")
	v.SetDefault("ledger.redis.db", 0)
	v.SetDefault("ledger.redis.key", "leadcrawler:ledger")
	v.SetDefault("ledger.postgres.dsn", "")
	v.SetDefault("ledger.postgres.table", "lead_ledger")
	v.SetDefault("ledger.postgres.name", "default")
	v.SetDefault("ledger.sqlite.path", "ledger.db")
	v.SetDefault("ledger.sqlite.name", "default")

	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; forum-lead-crawler/0.1)")
	v.SetDefault("fetch.accept_language", "tr-TR,tr;q=0.9,en;q=0.8")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_body_size", 0)
	v.SetDefault("fetch.rps", 1.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.forbidden_threshold", 3)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.wait_timeout", "10s")
	v.SetDefault("headless.block_images", true)
	v.SetDefault("headless.auto_promote", true)
	v.SetDefault("headless.promotion_threshold", 2048)

	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.politeness", "350ms")
	v.SetDefault("enrich.max_retries", 3)
	v.SetDefault("enrich.retry_backoff", "800ms")
	v.SetDefault("enrich.timeout", "45s")

	v.SetDefault("delivery.transport", TransportWebhook)
	v.SetDefault("delivery.token", "")
	v.SetDefault("delivery.attempts", 2)
	v.SetDefault("delivery.timeout", "25s")
	v.SetDefault("delivery.webhook.url", "")
	v.SetDefault("delivery.pubsub.project_id", "")
	v.SetDefault("delivery.pubsub.topic_name", "")
	v.SetDefault("delivery.kafka.brokers", []string{})
	v.SetDefault("delivery.kafka.topic", "")

	v.SetDefault("classify.weights.strong_demand", w.StrongDemand)
	v.SetDefault("classify.weights.weak_demand", w.WeakDemand)
	v.SetDefault("classify.weights.url_hint", w.URLHint)
	v.SetDefault("classify.weights.label_demand", w.LabelDemand)
	v.SetDefault("classify.weights.strong_supply", w.StrongSupply)
	v.SetDefault("classify.weights.weak_supply", w.WeakSupply)
	v.SetDefault("classify.weights.label_supply", w.LabelSupply)
	v.SetDefault("classify.weights.currency", w.Currency)
	v.SetDefault("classify.weights.contact", w.Contact)
	v.SetDefault("classify.high", policy.High)
	v.SetDefault("classify.low", policy.Low)
	v.SetDefault("classify.prefilter_floor", policy.PrefilterFloor)
	v.SetDefault("classify.strong_demand_override", policy.StrongDemandOverride)
	v.SetDefault("classify.label_override", policy.LabelOverride)
	v.SetDefault("classify.label_override_min", policy.LabelOverrideMin)

	v.SetDefault("discovery.limit", 200)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.interval", "15m")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "30s")
}

// Validate enforces required values and reasonable limits. Delivery
// settings are checked separately by ValidateDelivery.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Enrich.Concurrency <= 0 {
		return fmt.Errorf("enrich.concurrency must be > 0")
	}
	if c.Ledger.MaxAttempts <= 0 {
		return fmt.Errorf("ledger.max_attempts must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Classify.High <= c.Classify.Low {
		return fmt.Errorf("classify.high must be greater than classify.low")
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	enabled := 0
	for _, s := range c.Sources {
		if s.Disabled {
			continue
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}
	if _, err := c.BuildSources(); err != nil {
		return err
	}
	if _, err := c.CanonicalRules(); err != nil {
		return err
	}
	if _, err := c.Classifier(); err != nil {
		return err
	}
	return nil
}

func (c Config) validateLedger() error {
	l := c.Ledger
	switch l.Backend {
	case BackendLocal:
		if l.Path == "" {
			return fmt.Errorf("ledger.path is required for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if l.GCS.Bucket == "" {
			return fmt.Errorf("ledger.gcs.bucket is required for the gcs backend")
		}
	case BackendRedis:
		if l.Redis.Addr == "" {
			return fmt.Errorf("ledger.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if l.Postgres.DSN == "" {
			return fmt.Errorf("ledger.postgres.dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if l.SQLite.Path == "" {
			return fmt.Errorf("ledger.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", l.Backend)
	}
	return nil
}

// ErrMissingToken is returned when delivery.token is empty.
var ErrMissingToken = errors.New("delivery.token is required")

// ValidateDelivery checks the settings needed to send payloads.
func (c Config) ValidateDelivery() error {
	d := c.Delivery
	if d.Token == "" && d.Transport != TransportMemory {
		return ErrMissingToken
	}
	if d.Attempts <= 0 {
		return fmt.Errorf("delivery.attempts must be > 0")
	}
	switch d.Transport {
	case TransportWebhook:
		if d.Webhook.URL == "" {
			return fmt.Errorf("delivery.webhook.url is required for the webhook transport")
		}
	case TransportPubSub:
		if d.PubSub.ProjectID == "" || d.PubSub.TopicName == "" {
			return fmt.Errorf("delivery.pubsub.project_id and topic_name are required for the pubsub transport")
		}
	case TransportKafka:
		if len(d.Kafka.Brokers) == 0 || d.Kafka.Topic == "" {
			return fmt.Errorf("delivery.kafka.brokers and topic are required for the kafka transport")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("unknown delivery.transport %q", d.Transport)
	}
	return nil
}

// Watch loads path and calls onChange with every valid revision written to
// it afterwards. Invalid revisions are logged and ignored.
func Watch(path string, logger *zap.Logger, onChange func(Config)) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("watch requires a config file")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}
