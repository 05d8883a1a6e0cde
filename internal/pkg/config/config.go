package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":5010"`
	AdminAddr  string `env:"ADMIN_ADDR" envDefault:":9091"`

	// DBDriver selects the durable store backend: "sqlite" or "postgres".
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./mobile_traffic.db"`
	PostgresURL string `env:"POSTGRES_URL"`

	// RedisAddr, when set, registers a Redis Stream mirror subscriber.
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisStream string `env:"REDIS_STREAM" envDefault:"traffic_records"`

	WALPath           string        `env:"WAL_PATH" envDefault:"./wal"`
	WALSegmentSize    int64         `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"` // 100MB
	WALMaxDiskSize    int64         `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	WALReplayInterval time.Duration `env:"WAL_REPLAY_INTERVAL" envDefault:"5s"`

	MaxFlowSize     int64         `env:"MAX_FLOW_SIZE_BYTES" envDefault:"1048576"` // 1MB
	SendTimeout     time.Duration `env:"SUBSCRIBER_SEND_TIMEOUT" envDefault:"2s"`
	FanoutQueueSize int           `env:"FANOUT_QUEUE_SIZE" envDefault:"1024"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
