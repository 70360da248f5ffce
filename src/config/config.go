package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"vote-spin/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the YAML file and any .env file.
const (
	EnvDBType    = "VOTESPIN_DB_TYPE"
	EnvDBPath    = "VOTESPIN_DB_PATH"
	EnvDBDSN     = "VOTESPIN_DB_DSN"
	EnvPort      = "VOTESPIN_PORT"
	EnvRedisURL  = "VOTESPIN_REDIS_URL"
	EnvDeviceKey = "VOTESPIN_DEVICE_KEY"
	EnvLogLevel  = "VOTESPIN_LOG_LEVEL"
)

const (
	DefaultQueue            = "hardware"
	DefaultBatchLimit       = 20
	MaxBatchLimit           = 100
	DefaultClaimRetries     = 3
	DefaultClaimBackoffMs   = 50
	DefaultHeartbeatSeconds = 25
	DefaultSubscriberBuffer = 16
	DefaultRelayChannel     = "vote-spin:snapshot"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads the YAML file, then optional .env files, then environment
// overrides, fills defaults and validates the result.
func NewConfig(configPath string, envFiles ...string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	for _, f := range envFiles {
		if f == "" {
			continue
		}
		// A missing .env file is not an error; deployments often have none.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file '%s': %w", f, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// -----------------------------------------------------------------------------

// Parse unmarshals YAML without defaults or validation.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}
	return &Config{MConfig: &modelConfig}, nil
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides file values with VOTESPIN_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDBType); v != "" {
		c.Storage.DBType = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.Storage.DBConnectionString = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Port = port
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Relay.RedisURL = v
	}
	if v := os.Getenv(EnvDeviceKey); v != "" {
		c.Auth.DeviceKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills every unset tunable.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}

	d := &c.Dispatch
	if d.DefaultQueue == "" {
		d.DefaultQueue = DefaultQueue
	}
	if d.LegacyQueue == "" {
		d.LegacyQueue = d.DefaultQueue
	}
	if d.BatchLimit <= 0 {
		d.BatchLimit = DefaultBatchLimit
	}
	if d.BatchLimit > MaxBatchLimit {
		d.BatchLimit = MaxBatchLimit
	}
	if d.ClaimRetries <= 0 {
		d.ClaimRetries = DefaultClaimRetries
	}
	if d.ClaimBackoffMs <= 0 {
		d.ClaimBackoffMs = DefaultClaimBackoffMs
	}
	for i := range d.Queues {
		if d.Queues[i].Mode == "" {
			d.Queues[i].Mode = models.PollModeClaim
		}
	}
	if _, ok := c.QueueMode(d.DefaultQueue); !ok {
		d.Queues = append(d.Queues, models.MQueueConfig{Name: d.DefaultQueue, Mode: models.PollModeClaim})
	}

	if c.Live.HeartbeatSeconds <= 0 {
		c.Live.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.Live.SubscriberBuffer <= 0 {
		c.Live.SubscriberBuffer = DefaultSubscriberBuffer
	}

	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %q", c.Storage.DBType)
	}

	seen := make(map[string]bool)
	for i, e := range c.Entities {
		if e == "" {
			return fmt.Errorf("entity %d cannot be empty", i)
		}
		if seen[e] {
			return fmt.Errorf("entity %q listed twice", e)
		}
		seen[e] = true
	}

	queues := make(map[string]bool)
	for i, q := range c.Dispatch.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue %d must have a name", i)
		}
		if queues[q.Name] {
			return fmt.Errorf("queue %q configured twice", q.Name)
		}
		queues[q.Name] = true
		if q.Mode != models.PollModeClaim && q.Mode != models.PollModeBatch {
			return fmt.Errorf("queue %q has invalid mode %q (must be claim or batch)", q.Name, q.Mode)
		}
	}
	if !queues[c.Dispatch.DefaultQueue] {
		return fmt.Errorf("default queue %q is not configured", c.Dispatch.DefaultQueue)
	}
	if c.Dispatch.LegacyQueue != "" && !queues[c.Dispatch.LegacyQueue] {
		return fmt.Errorf("legacy queue %q is not configured", c.Dispatch.LegacyQueue)
	}

	if c.Live.HeartbeatSeconds <= 0 {
		return fmt.Errorf("heartbeat interval must be greater than 0")
	}
	if c.Server.VoteRatePerSecond < 0 || c.Server.VoteBurst < 0 {
		return fmt.Errorf("vote rate limits cannot be negative")
	}

	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.Role == "" {
			return fmt.Errorf("auth token %d must have a token and a role", i)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// QueueMode returns the poll mode configured for a queue.
func (c *Config) QueueMode(name string) (string, bool) {
	for _, q := range c.Dispatch.Queues {
		if q.Name == name {
			return q.Mode, true
		}
	}
	return "", false
}

// -----------------------------------------------------------------------------

// QueueNames lists every configured queue in config order.
func (c *Config) QueueNames() []string {
	names := make([]string, 0, len(c.Dispatch.Queues))
	for _, q := range c.Dispatch.Queues {
		names = append(names, q.Name)
	}
	return names
}

// -----------------------------------------------------------------------------

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Live.HeartbeatSeconds) * time.Second
}

// -----------------------------------------------------------------------------

func (c *Config) ClaimBackoff() time.Duration {
	return time.Duration(c.Dispatch.ClaimBackoffMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
