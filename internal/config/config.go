// Package config defines all configuration for the kline indexer.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// operational fields overridable via INDEXER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Database DatabaseConfig `mapstructure:"database"`
	IPFS     IPFSConfig     `mapstructure:"ipfs"`
	Kline    KlineConfig    `mapstructure:"kline"`
}

// ServerConfig controls the HTTP/query listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CORSConfig controls cross-origin access to the query endpoints and the
// push-fanout socket.
type CORSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SolanaConfig controls the upstream log-subscription client (component B).
type SolanaConfig struct {
	RPCURL                    string        `mapstructure:"rpc_url"`
	WSURL                     string        `mapstructure:"ws_url"`
	ProgramID                 string        `mapstructure:"program_id"`
	EnableEventListener       bool          `mapstructure:"enable_event_listener"`
	Commitment                string        `mapstructure:"commitment"`
	ReconnectInterval         time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts      uint32        `mapstructure:"max_reconnect_attempts"`
	PingIntervalSeconds       uint64        `mapstructure:"ping_interval_seconds"`
	ProcessFailedTransactions bool          `mapstructure:"process_failed_transactions"`
}

// DatabaseConfig points at the embedded KV store's on-disk directory.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// IPFSConfig controls the asynchronous token-metadata fetch.
type IPFSConfig struct {
	GatewayURL            string        `mapstructure:"gateway_url"`
	RequestTimeoutSeconds time.Duration `mapstructure:"request_timeout_seconds"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelaySeconds     time.Duration `mapstructure:"retry_delay_seconds"`
}

// KlineConfig controls the push-fanout subsystem (component E).
type KlineConfig struct {
	EnableKlineService        bool          `mapstructure:"enable_kline_service"`
	ConnectionTimeoutSecs     time.Duration `mapstructure:"connection_timeout_secs"`
	MaxSubscriptionsPerClient int           `mapstructure:"max_subscriptions_per_client"`
	HistoryDataLimit          int           `mapstructure:"history_data_limit"`
	PingIntervalSecs          time.Duration `mapstructure:"ping_interval_secs"`
	PingTimeoutSecs           time.Duration `mapstructure:"ping_timeout_secs"`
}

// Load reads config from a YAML file with INDEXER_-prefixed env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// SERVER_PORT, like the upstream bot's SERVER_PORT override, lets an
	// orchestrator pin the listening port without editing the YAML file.
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cors.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.reconnect_interval", "1s")
	v.SetDefault("solana.max_reconnect_attempts", 20)
	v.SetDefault("solana.ping_interval_seconds", 30)
	v.SetDefault("database.path", "./data/kline-indexer.db")
	v.SetDefault("ipfs.request_timeout_seconds", "10s")
	v.SetDefault("ipfs.max_retries", 3)
	v.SetDefault("ipfs.retry_delay_seconds", "2s")
	v.SetDefault("kline.enable_kline_service", true)
	v.SetDefault("kline.connection_timeout_secs", "60s")
	v.SetDefault("kline.max_subscriptions_per_client", 100)
	v.SetDefault("kline.history_data_limit", 100)
	v.SetDefault("kline.ping_interval_secs", "25s")
	v.SetDefault("kline.ping_timeout_secs", "60s")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Solana.EnableEventListener {
		if c.Solana.WSURL == "" {
			return fmt.Errorf("solana.ws_url is required when solana.enable_event_listener is true")
		}
		if c.Solana.ProgramID == "" {
			return fmt.Errorf("solana.program_id is required when solana.enable_event_listener is true")
		}
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Kline.MaxSubscriptionsPerClient <= 0 {
		return fmt.Errorf("kline.max_subscriptions_per_client must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
