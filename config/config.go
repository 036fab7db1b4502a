package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Policy     PolicyConfig     `yaml:"policy"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateBurst       int     `yaml:"rate_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// LedgerConfig selects where the atomic claim write goes.
type LedgerConfig struct {
	// Backend is "postgres" (unique-key insert) or "redis" (SETNX).
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	TimeoutMillis int           `yaml:"timeout_millis"`
	Timeout       time.Duration `yaml:"-"` // Ignored by YAML parser
}

// PolicyConfig holds visibility product decisions.
type PolicyConfig struct {
	// ShowLockedOrders lists premium-only orders to standard couriers as
	// locked cards during the diamond window instead of hiding them.
	ShowLockedOrders bool `yaml:"show_locked_orders"`
	// DefaultDiamondSeconds is applied when an admin promotes an order
	// without an explicit diamond window.
	DefaultDiamondSeconds int `yaml:"default_diamond_seconds"`
	// DefaultClaimWindowSeconds is applied when an admission carries no
	// claim window.
	DefaultClaimWindowSeconds int `yaml:"default_claim_window_seconds"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "postgres"
	}
	if cfg.Ledger.TimeoutMillis <= 0 {
		cfg.Ledger.TimeoutMillis = 3000
	}
	cfg.Ledger.Timeout = time.Duration(cfg.Ledger.TimeoutMillis) * time.Millisecond

	if cfg.Policy.DefaultDiamondSeconds <= 0 {
		cfg.Policy.DefaultDiamondSeconds = 90
	}
	if cfg.Policy.DefaultClaimWindowSeconds <= 0 {
		cfg.Policy.DefaultClaimWindowSeconds = 600
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
