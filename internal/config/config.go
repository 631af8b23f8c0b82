// Package config loads ledgerd configuration from defaults, an optional YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

// DefaultPath is used when LEDGER_CONFIG is unset.
const DefaultPath = "config/ledger.yaml"

// Config is the full ledgerd configuration.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Database   DatabaseConfig       `yaml:"database"`
	Redis      RedisConfig          `yaml:"redis"`
	Logging    logger.LoggingConfig `yaml:"logging"`
	Auth       AuthConfig           `yaml:"auth"`
	Ledger     LedgerConfig         `yaml:"ledger"`
	RateLimit  RateLimitConfig      `yaml:"rate_limit"`
	Checkpoint CheckpointConfig     `yaml:"checkpoint"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"LEDGER_SERVER_HOST"`
	Port            int           `yaml:"port" env:"LEDGER_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"LEDGER_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"LEDGER_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LEDGER_SERVER_SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"LEDGER_CORS_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the Postgres snapshot store when DSN is set.
type DatabaseConfig struct {
	DSN         string `yaml:"dsn" env:"DATABASE_URL"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"LEDGER_DB_AUTO_MIGRATE"`
}

// RedisConfig selects the Redis snapshot store when Addr is set and no DSN is.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Key      string `yaml:"key" env:"LEDGER_REDIS_KEY"`
}

type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"LEDGER_AUTH_ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"LEDGER_JWT_SECRET"`
}

// LedgerConfig describes the ledger itself and its asset collaborator.
type LedgerConfig struct {
	Generation    int    `yaml:"generation" env:"LEDGER_GENERATION"`
	Asset         string `yaml:"asset" env:"LEDGER_ASSET"`
	Admin         string `yaml:"admin" env:"LEDGER_ADMIN"`
	DepositFeeBps uint64 `yaml:"deposit_fee_bps" env:"LEDGER_DEPOSIT_FEE_BPS"`
	// AssetURL points at a remote asset ledger. Empty runs the in-memory asset.
	AssetURL     string        `yaml:"asset_url" env:"LEDGER_ASSET_URL"`
	AssetToken   string        `yaml:"asset_token" env:"LEDGER_ASSET_TOKEN"`
	VaultAccount string        `yaml:"vault_account" env:"LEDGER_VAULT_ACCOUNT"`
	AssetTimeout time.Duration `yaml:"asset_timeout" env:"LEDGER_ASSET_TIMEOUT"`
	EventBuffer  int           `yaml:"event_buffer" env:"LEDGER_EVENT_BUFFER"`

	// DevBalances seeds holder balances of the in-memory asset.
	DevBalances map[string]uint64 `yaml:"dev_balances"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"LEDGER_RATE_LIMIT_ENABLED"`
	RPS     float64 `yaml:"rps" env:"LEDGER_RATE_LIMIT_RPS"`
	Burst   int     `yaml:"burst" env:"LEDGER_RATE_LIMIT_BURST"`
}

// CheckpointConfig drives the periodic snapshot job. Schedule is a cron spec.
type CheckpointConfig struct {
	Enabled  bool   `yaml:"enabled" env:"LEDGER_CHECKPOINT_ENABLED"`
	Schedule string `yaml:"schedule" env:"LEDGER_CHECKPOINT_SCHEDULE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{AutoMigrate: true},
		Redis:    RedisConfig{Key: "vault_ledger:snapshot"},
		Logging:  logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Ledger: LedgerConfig{
			Generation:   int(schema.Latest),
			VaultAccount: "vault",
			AssetTimeout: 10 * time.Second,
			EventBuffer:  1024,
		},
		RateLimit:  RateLimitConfig{Enabled: true, RPS: 50, Burst: 100},
		Checkpoint: CheckpointConfig{Enabled: true, Schedule: "@every 1m"},
	}
}

// Load builds the configuration. path overrides LEDGER_CONFIG; a missing
// file at the default location is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("LEDGER_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the ledger would refuse at runtime.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !schema.Generation(c.Ledger.Generation).Valid() {
		problems = append(problems, fmt.Sprintf("ledger.generation %d is unknown", c.Ledger.Generation))
	}
	if c.Ledger.DepositFeeBps > 10000 {
		problems = append(problems, "ledger.deposit_fee_bps exceeds 10000")
	}
	if c.Ledger.EventBuffer <= 0 {
		problems = append(problems, "ledger.event_buffer must be positive")
	}
	if c.Ledger.AssetURL != "" && strings.TrimSpace(c.Ledger.VaultAccount) == "" {
		problems = append(problems, "ledger.vault_account is required with ledger.asset_url")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		problems = append(problems, "auth.jwt_secret is required when auth is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		problems = append(problems, "rate_limit.rps and rate_limit.burst must be positive")
	}
	if c.Checkpoint.Enabled && strings.TrimSpace(c.Checkpoint.Schedule) == "" {
		problems = append(problems, "checkpoint.schedule is required when checkpoints are enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LedgerGeneration returns the configured generation.
func (c *Config) LedgerGeneration() schema.Generation {
	return schema.Generation(c.Ledger.Generation)
}
