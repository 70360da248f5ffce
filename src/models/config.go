package models

// MConfig Structure
type MConfig struct {
	Name     string          `yaml:"name"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	LogLevel string          `yaml:"log_level"`
	GrpcHost string          `yaml:"grpc_host"`
	GrpcPort int             `yaml:"grpc_port"`
	Storage  MStorageConfig  `yaml:"storage"`
	Entities []string        `yaml:"entities"`
	Dispatch MDispatchConfig `yaml:"dispatch"`
	Live     MLiveConfig     `yaml:"live"`
	Server   MServerConfig   `yaml:"server"`
	Auth     MAuthConfig     `yaml:"auth"`
	Relay    MRelayConfig    `yaml:"relay"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MDispatchConfig struct {
	DefaultQueue   string         `yaml:"default_queue"`
	LegacyQueue    string         `yaml:"legacy_queue"` // served on /api/control/poll
	Queues         []MQueueConfig `yaml:"queues"`
	BatchLimit     int            `yaml:"batch_limit"`
	ClaimRetries   int            `yaml:"claim_retries"`
	ClaimBackoffMs int            `yaml:"claim_backoff_ms"`
}

// MQueueConfig binds a named queue to the one poll contract its consumers expect.
type MQueueConfig struct {
	Name string `yaml:"name"`
	Mode string `yaml:"mode"` // claim | batch
}

type MLiveConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

type MServerConfig struct {
	VoteRatePerSecond float64  `yaml:"vote_rate_per_second"`
	VoteBurst         int      `yaml:"vote_burst"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

type MAuthConfig struct {
	DeviceKey string        `yaml:"device_key"`
	Tokens    []MTokenEntry `yaml:"tokens"`
}

type MTokenEntry struct {
	Token string `yaml:"token"`
	ID    string `yaml:"id"`
	Role  string `yaml:"role"`
}

type MRelayConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}
