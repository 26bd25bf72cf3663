// Package config loads the eval-server JSON configuration file and applies
// the documented defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"
)

const (
	DefaultQueueSize              = 20
	DefaultFetchTimeoutMs         = 15000
	DefaultFetchMaxResponseLength = 10000
	DefaultMaxFetchConcurrency    = 5
	DefaultWorkersTimeOutMs       = 600000
	DefaultVMMemoryLimitMB        = 32 // reserved: goja exposes no heap cap to enforce this against
	DefaultVMTimeoutMs            = 14000
)

// Config is the primary-process configuration, per the enumerated keys.
type Config struct {
	Port                   int    `json:"port"`
	Auth                   string `json:"auth"`
	QueueSize              int    `json:"queueSize"`
	FetchTimeout           int    `json:"fetchTimeout"`
	FetchMaxResponseLength int    `json:"fetchMaxResponseLength"`
	MaxFetchConcurrency    int    `json:"maxFetchConcurrency"`
	WorkersTimeOut         int    `json:"workersTimeOut"`
	VMMemoryLimit          int    `json:"vmMemoryLimit"`
	VMTimeout              int    `json:"vmTimeout"`
	MaxChildProcessCount   int    `json:"maxChildProcessCount"`
	RedisHost              string `json:"redisHost"`
	RedisPort              int    `json:"redisPort"`

	Ledger  LedgerConfig  `json:"ledger"`
	Archive ArchiveConfig `json:"archive"`
	Events  EventsConfig  `json:"events"`
	Admin   AdminConfig   `json:"admin"`
}

// LedgerConfig configures the MySQL-backed submission ledger.
type LedgerConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// ArchiveConfig configures the MinIO-backed submission archiver.
type ArchiveConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	UseSSL    bool   `json:"useSSL"`
	// EncryptionKey is a 32-byte chacha20poly1305 key, hex-encoded.
	EncryptionKey string `json:"encryptionKey"`
}

// EventsConfig configures the Kafka-backed submission event publisher.
type EventsConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// AdminConfig configures the JWT-gated admin API.
type AdminConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwtSecret"`
	TokenTTL  int    `json:"tokenTTLSeconds"`
}

// Load reads path, JSON-decodes it, validates required fields, and applies
// defaults for everything left unset.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Auth == "" {
		return fmt.Errorf("auth is required")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeoutMs
	}
	if cfg.FetchMaxResponseLength == 0 {
		cfg.FetchMaxResponseLength = DefaultFetchMaxResponseLength
	}
	if cfg.MaxFetchConcurrency == 0 {
		cfg.MaxFetchConcurrency = DefaultMaxFetchConcurrency
	}
	if cfg.WorkersTimeOut == 0 {
		cfg.WorkersTimeOut = DefaultWorkersTimeOutMs
	}
	if cfg.VMMemoryLimit == 0 {
		cfg.VMMemoryLimit = DefaultVMMemoryLimitMB
	}
	if cfg.VMTimeout == 0 {
		cfg.VMTimeout = DefaultVMTimeoutMs
	}
	if cfg.MaxChildProcessCount == 0 {
		cfg.MaxChildProcessCount = runtime.NumCPU()
	}
	if cfg.Admin.TokenTTL == 0 {
		cfg.Admin.TokenTTL = 3600
	}
}

// FetchTimeoutDuration returns FetchTimeout as a time.Duration.
func (c Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Millisecond
}

// WorkersTimeOutDuration returns WorkersTimeOut as a time.Duration.
func (c Config) WorkersTimeOutDuration() time.Duration {
	return time.Duration(c.WorkersTimeOut) * time.Millisecond
}

// VMTimeoutDuration returns VMTimeout as a time.Duration.
func (c Config) VMTimeoutDuration() time.Duration {
	return time.Duration(c.VMTimeout) * time.Millisecond
}
