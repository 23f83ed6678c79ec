// Package config provides configuration management.
//
// Configuration is layered: built-in defaults, then an optional JSON file,
// then TREE_* environment variables (a .env file in the working directory is
// read first if present).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"tree-estimator/core/cost"
	"tree-estimator/core/engine"
	"tree-estimator/internal/logging"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TREE_"

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Calculator configures the calculation engine
	Calculator engine.Config `json:"calculator"`

	// RateStore configures where rate history lives
	RateStore RateStoreConfig `json:"rate_store"`

	// Cache configures the Redis rate cache
	Cache CacheConfig `json:"cache"`

	// Storage configures where calculation results are kept
	Storage StorageConfig `json:"storage"`

	// Server configures the HTTP API
	Server ServerConfig `json:"server"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// RateStoreConfig contains rate store settings
type RateStoreConfig struct {
	// Driver is sqlite or postgres
	Driver string `json:"driver"`

	// DSN is the database path (sqlite) or connection URL (postgres)
	DSN string `json:"dsn"`

	// RatesFile is an HCL rate table imported at startup when set
	RatesFile string `json:"rates_file,omitempty"`

	// MigrateOnStart applies pending migrations when the store opens
	MigrateOnStart bool `json:"migrate_on_start"`
}

// CacheConfig contains cache-related settings
type CacheConfig struct {
	// Enabled puts a Redis read-through cache in front of the rate store
	Enabled bool `json:"enabled"`

	// RedisURL is a redis:// URL
	RedisURL string `json:"redis_url"`

	// TTLSeconds is how long cached rate history is kept
	TTLSeconds int `json:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StorageConfig contains result storage settings
type StorageConfig struct {
	// Backend is file, memory or dynamodb
	Backend string `json:"backend"`

	// Directory is the root for the file backend
	Directory string `json:"directory"`

	// DynamoDB configures the dynamodb backend
	DynamoDB DynamoDBConfig `json:"dynamodb,omitempty"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	Table           string `json:"table"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address                string `json:"address"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64  `json:"max_body_bytes"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".tree-estimator")

	return &Config{
		Version:    "1.0",
		Calculator: engine.DefaultConfig(),
		RateStore: RateStoreConfig{
			Driver:         "sqlite",
			DSN:            filepath.Join(baseDir, "rates.db"),
			MigrateOnStart: true,
		},
		Cache: CacheConfig{
			Enabled:    false,
			RedisURL:   "redis://localhost:6379/0",
			TTLSeconds: 300,
		},
		Storage: StorageConfig{
			Backend:   "file",
			Directory: filepath.Join(baseDir, "results"),
			DynamoDB: DynamoDBConfig{
				Table:  "calculations",
				Region: "us-east-1",
			},
		},
		Server: ServerConfig{
			Address:                ":8080",
			ReadTimeoutSeconds:     10,
			WriteTimeoutSeconds:    10,
			ShutdownTimeoutSeconds: 15,
			MaxBodyBytes:           1 << 20,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, applies environment overrides and validates.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays TREE_* environment variables onto c
func ApplyEnv(c *Config) error {
	_ = godotenv.Load()

	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	str := func(key string, dst *string) {
		if k.Exists(key) {
			*dst = strings.TrimSpace(k.String(key))
		}
	}
	integer := func(key string, dst *int) {
		if k.Exists(key) {
			*dst = k.Int(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if k.Exists(key) {
			*dst = parseBool(k.String(key))
		}
	}

	str("logging_level", &c.Logging.Level)
	str("logging_format", &c.Logging.Format)
	str("logging_output", &c.Logging.Output)

	str("calculator_default_vehicle", &c.Calculator.DefaultVehicle)
	if k.Exists("calculator_multiplier_mode") {
		mode, err := cost.ParseCombineMode(k.String("calculator_multiplier_mode"))
		if err != nil {
			return err
		}
		c.Calculator.Multipliers.Mode = mode
	}
	if k.Exists("calculator_multiplier_order") {
		var order []cost.MultiplierKind
		for _, part := range splitAndTrim(k.String("calculator_multiplier_order")) {
			order = append(order, cost.MultiplierKind(part))
		}
		c.Calculator.Multipliers.Order = order
	}

	str("ratestore_driver", &c.RateStore.Driver)
	str("ratestore_dsn", &c.RateStore.DSN)
	str("ratestore_rates_file", &c.RateStore.RatesFile)
	boolean("ratestore_migrate", &c.RateStore.MigrateOnStart)

	boolean("cache_enabled", &c.Cache.Enabled)
	str("cache_redis_url", &c.Cache.RedisURL)
	integer("cache_ttl_seconds", &c.Cache.TTLSeconds)

	str("storage_backend", &c.Storage.Backend)
	str("storage_directory", &c.Storage.Directory)
	str("storage_dynamodb_table", &c.Storage.DynamoDB.Table)
	str("storage_dynamodb_region", &c.Storage.DynamoDB.Region)
	str("storage_dynamodb_endpoint", &c.Storage.DynamoDB.Endpoint)
	str("storage_dynamodb_access_key_id", &c.Storage.DynamoDB.AccessKeyID)
	str("storage_dynamodb_secret_access_key", &c.Storage.DynamoDB.SecretAccessKey)

	str("server_address", &c.Server.Address)
	return nil
}

// Validate rejects unknown drivers, backends and incoherent calculator settings
func (c *Config) Validate() error {
	if err := c.Calculator.Validate(); err != nil {
		return fmt.Errorf("calculator: %w", err)
	}
	switch c.RateStore.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("rate_store.driver %q (want sqlite or postgres)", c.RateStore.Driver)
	}
	if c.RateStore.DSN == "" {
		return fmt.Errorf("rate_store.dsn is required")
	}
	switch c.Storage.Backend {
	case "file":
		if c.Storage.Directory == "" {
			return fmt.Errorf("storage.directory is required for the file backend")
		}
	case "memory":
	case "dynamodb":
		if c.Storage.DynamoDB.Table == "" || c.Storage.DynamoDB.Region == "" {
			return fmt.Errorf("storage.dynamodb table and region are required")
		}
	default:
		return fmt.Errorf("storage.backend %q (want file, memory or dynamodb)", c.Storage.Backend)
	}
	if c.Cache.Enabled {
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when the cache is enabled")
		}
		if c.Cache.TTLSeconds <= 0 {
			return fmt.Errorf("cache.ttl_seconds must be positive")
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
