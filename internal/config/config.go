package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the indexer
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Contract ContractConfig `yaml:"contract"`
	Database DatabaseConfig `yaml:"database"`
	Backfill BackfillConfig `yaml:"backfill"`
	Watch    WatchConfig    `yaml:"watch"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Sinks    SinksConfig    `yaml:"sinks"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// RequestsPerSecond caps log and batch queries; 0 disables the limiter
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ContractConfig identifies the pool contract and how its amounts are scaled
type ContractConfig struct {
	Address     string `yaml:"address"`
	OriginBlock uint64 `yaml:"origin_block"`
	Decimals    int    `yaml:"decimals"`
}

// DatabaseConfig holds record store configuration
type DatabaseConfig struct {
	// Backend is one of "pebble", "postgres", "memory"
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	ReadOnly    bool   `yaml:"readonly"`
	CacheMB     int    `yaml:"cache_mb"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BackfillConfig holds historical backfill configuration
type BackfillConfig struct {
	BatchSize uint64 `yaml:"batch_size"`
	// RetrySchedule is a cron spec; empty disables scheduled retries
	RetrySchedule string `yaml:"retry_schedule"`
	// Periodic re-runs backfill on every schedule tick, not only after failures
	Periodic           bool          `yaml:"periodic"`
	TimestampCacheSize int           `yaml:"timestamp_cache_size"`
	HeadRetryDelay     time.Duration `yaml:"head_retry_delay"`
}

// WatchConfig holds live watcher configuration
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
	// Mode is one of "auto", "subscribe", "poll"
	Mode               string        `yaml:"mode"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	BufferSize         int           `yaml:"buffer_size"`
	SeenCapacity       int           `yaml:"seen_capacity"`
	ResubscribeBackoff time.Duration `yaml:"resubscribe_backoff"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableGraphQL      bool     `yaml:"enable_graphql"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// SinksConfig holds the optional downstream publishers of new records
type SinksConfig struct {
	Redis RedisSinkConfig `yaml:"redis"`
	Kafka KafkaSinkConfig `yaml:"kafka"`
}

// RedisSinkConfig configures publishing to a Redis pub/sub channel
type RedisSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// KafkaSinkConfig configures publishing to a Kafka topic
type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// RequiredAcks: 0 none, 1 leader, -1 all
	RequiredAcks int `yaml:"required_acks"`
}

// NewConfig creates a configuration with defaults applied
func NewConfig() *Config {
	// Decimals is preset rather than defaulted so that 0 stays configurable
	cfg := &Config{
		Contract: ContractConfig{Decimals: constants.DefaultDecimals},
		Watch:    WatchConfig{Enabled: true},
		API: APIConfig{
			EnableGraphQL:   true,
			EnableWebSocket: true,
			EnableCORS:      true,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for unset fields
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultQueryTimeout
	}
	if c.RPC.RequestsPerSecond > 0 && c.RPC.Burst == 0 {
		c.RPC.Burst = 1
	}

	// Database defaults
	if c.Database.Backend == "" {
		c.Database.Backend = "pebble"
	}
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.CacheMB == 0 {
		c.Database.CacheMB = constants.DefaultCacheSize
	}

	// Backfill defaults
	if c.Backfill.BatchSize == 0 {
		c.Backfill.BatchSize = constants.DefaultBatchSize
	}
	if c.Backfill.TimestampCacheSize == 0 {
		c.Backfill.TimestampCacheSize = constants.DefaultTimestampCacheSize
	}
	if c.Backfill.HeadRetryDelay == 0 {
		c.Backfill.HeadRetryDelay = constants.DefaultHeadRetryDelay
	}

	// Watch defaults
	if c.Watch.Mode == "" {
		c.Watch.Mode = constants.DefaultWatchMode
	}
	if c.Watch.PollInterval == 0 {
		c.Watch.PollInterval = constants.DefaultPollInterval
	}
	if c.Watch.BufferSize == 0 {
		c.Watch.BufferSize = constants.DefaultWatchBufferSize
	}
	if c.Watch.SeenCapacity == 0 {
		c.Watch.SeenCapacity = constants.DefaultSeenCapacity
	}
	if c.Watch.ResubscribeBackoff == 0 {
		c.Watch.ResubscribeBackoff = constants.DefaultResubscribeBackoff
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	// Sink defaults
	if c.Sinks.Redis.Channel == "" {
		c.Sinks.Redis.Channel = constants.DefaultRedisChannel
	}
	if c.Sinks.Kafka.Topic == "" {
		c.Sinks.Kafka.Topic = constants.DefaultKafkaTopic
	}
}

// LoadFromEnv overrides configuration from INDEXER_* environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("INDEXER_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("INDEXER_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}
	if rps := os.Getenv("INDEXER_RPC_RPS"); rps != "" {
		val, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_RPS: %w", err)
		}
		c.RPC.RequestsPerSecond = val
	}

	// Contract configuration
	if address := os.Getenv("INDEXER_CONTRACT_ADDRESS"); address != "" {
		c.Contract.Address = address
	}
	if origin := os.Getenv("INDEXER_ORIGIN_BLOCK"); origin != "" {
		val, err := strconv.ParseUint(origin, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_ORIGIN_BLOCK: %w", err)
		}
		c.Contract.OriginBlock = val
	}
	if decimals := os.Getenv("INDEXER_DECIMALS"); decimals != "" {
		val, err := strconv.Atoi(decimals)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DECIMALS: %w", err)
		}
		c.Contract.Decimals = val
	}

	// Database configuration
	if backend := os.Getenv("INDEXER_DB_BACKEND"); backend != "" {
		c.Database.Backend = backend
	}
	if path := os.Getenv("INDEXER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if readonly := os.Getenv("INDEXER_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}
	if dsn := os.Getenv("INDEXER_POSTGRES_DSN"); dsn != "" {
		c.Database.PostgresDSN = dsn
	}

	// Backfill configuration
	if batchSize := os.Getenv("INDEXER_BATCH_SIZE"); batchSize != "" {
		val, err := strconv.ParseUint(batchSize, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_BATCH_SIZE: %w", err)
		}
		c.Backfill.BatchSize = val
	}
	if schedule, ok := os.LookupEnv("INDEXER_BACKFILL_RETRY"); ok {
		c.Backfill.RetrySchedule = schedule
	}

	// Watch configuration
	if enabled := os.Getenv("INDEXER_WATCH_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_WATCH_ENABLED: %w", err)
		}
		c.Watch.Enabled = val
	}
	if mode := os.Getenv("INDEXER_WATCH_MODE"); mode != "" {
		c.Watch.Mode = mode
	}
	if interval := os.Getenv("INDEXER_POLL_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_POLL_INTERVAL: %w", err)
		}
		c.Watch.PollInterval = duration
	}

	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// API configuration
	if enabled := os.Getenv("INDEXER_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("INDEXER_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_PORT: %w", err)
		}
		c.API.Port = val
	}

	// Sink configuration
	if addr := os.Getenv("INDEXER_REDIS_ADDR"); addr != "" {
		c.Sinks.Redis.Enabled = true
		c.Sinks.Redis.Address = addr
	}
	if password := os.Getenv("INDEXER_REDIS_PASSWORD"); password != "" {
		c.Sinks.Redis.Password = password
	}
	if brokers := os.Getenv("INDEXER_KAFKA_BROKERS"); brokers != "" {
		c.Sinks.Kafka.Enabled = true
		c.Sinks.Kafka.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("INDEXER_KAFKA_TOPIC"); topic != "" {
		c.Sinks.Kafka.Topic = topic
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.RequestsPerSecond < 0 {
		return fmt.Errorf("RPC requests per second cannot be negative")
	}

	// Validate contract configuration
	if c.Contract.Address == "" {
		return fmt.Errorf("contract address is required")
	}
	if !common.IsHexAddress(c.Contract.Address) {
		return fmt.Errorf("invalid contract address %q", c.Contract.Address)
	}
	if c.Contract.Decimals < 0 || c.Contract.Decimals > constants.MaxDecimals {
		return fmt.Errorf("decimals must be between 0 and %d", constants.MaxDecimals)
	}

	// Validate database configuration
	validBackends := map[string]bool{
		"pebble":   true,
		"postgres": true,
		"memory":   true,
	}
	if !validBackends[c.Database.Backend] {
		return fmt.Errorf("invalid database backend %q, must be one of: pebble, postgres, memory", c.Database.Backend)
	}
	if c.Database.Backend == "pebble" && c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.Backend == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("postgres DSN is required for the postgres backend")
	}

	// Validate backfill configuration
	if c.Backfill.BatchSize == 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Backfill.RetrySchedule != "" {
		if _, err := cron.ParseStandard(c.Backfill.RetrySchedule); err != nil {
			return fmt.Errorf("invalid backfill retry schedule %q: %w", c.Backfill.RetrySchedule, err)
		}
	}

	// Validate watch configuration
	validModes := map[string]bool{
		"auto":      true,
		"subscribe": true,
		"poll":      true,
	}
	if !validModes[c.Watch.Mode] {
		return fmt.Errorf("invalid watch mode %q, must be one of: auto, subscribe, poll", c.Watch.Mode)
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Watch.BufferSize <= 0 {
		return fmt.Errorf("watch buffer size must be positive")
	}
	if c.Watch.SeenCapacity <= 0 {
		return fmt.Errorf("seen capacity must be positive")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("API port must be between %d and %d", constants.MinPort, constants.MaxPort)
		}
	}

	// Validate sink configuration
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Address == "" {
		return fmt.Errorf("redis sink enabled but no address configured")
	}
	if c.Sinks.Kafka.Enabled {
		if len(c.Sinks.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka sink enabled but no brokers configured")
		}
		if c.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}

// ContractAddress returns the parsed contract address
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
