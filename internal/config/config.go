package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrNotConfigured is returned when the engine cannot be initialized.
var ErrNotConfigured = errors.New("indexer not configured")

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL         string
	Contract       string
	Network        string
	StartBlock     *uint64
	Confirmations  uint64
	LookbackBlocks uint64
	ChunkSize      uint64
	PollInterval   time.Duration
	Order          string
	Store          string
	PGDSN          string
	Listen         string
	AuditOut       string
	MaxRetries     int
	RetryBackoff   time.Duration
	SentryDSN      string
	LogLevel       string
}

// Load merges an optional .env file, config file, environment variables,
// and flags into Config.
func Load(cfgFile, envFile string, flags *pflag.FlagSet) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", "sepolia")
	v.SetDefault("confirmations", uint64(3))
	v.SetDefault("lookback-blocks", uint64(2000))
	v.SetDefault("chunk-size", uint64(2000))
	v.SetDefault("poll-interval", 15*time.Second)
	v.SetDefault("order", "kind")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("listen", ":8080")
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:         strings.TrimSpace(v.GetString("rpc")),
		Contract:       strings.TrimSpace(v.GetString("contract")),
		Network:        v.GetString("network"),
		Confirmations:  v.GetUint64("confirmations"),
		LookbackBlocks: v.GetUint64("lookback-blocks"),
		ChunkSize:      v.GetUint64("chunk-size"),
		PollInterval:   getDuration(v, "poll-interval"),
		Order:          v.GetString("order"),
		Store:          v.GetString("store"),
		PGDSN:          v.GetString("pg-dsn"),
		Listen:         v.GetString("listen"),
		AuditOut:       v.GetString("audit-out"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		SentryDSN:      v.GetString("sentry-dsn"),
		LogLevel:       v.GetString("log-level"),
	}

	// IsSet skips unchanged flag defaults, so an absent start block stays nil.
	if v.IsSet("start-block") {
		start := v.GetUint64("start-block")
		cfg.StartBlock = &start
	}

	return cfg, nil
}

// Validate reports ErrNotConfigured when the RPC endpoint or contract is missing.
func (c Config) Validate() error {
	var missing []string
	if c.RPCURL == "" {
		missing = append(missing, "rpc")
	}
	if c.Contract == "" {
		missing = append(missing, "contract")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk-size must be greater than zero")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	switch c.Store {
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// getDuration accepts Go durations ("15s") and bare milliseconds ("15000").
func getDuration(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw != "" && strings.Trim(raw, "0123456789") == "" {
		return time.Duration(v.GetInt64(key)) * time.Millisecond
	}
	return v.GetDuration(key)
}
