// Package config loads and validates batch search configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Search  SearchConfig  `mapstructure:"search"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StoreConfig controls access to the job table.
type StoreConfig struct {
	Driver           string        `mapstructure:"driver"`
	DSN              string        `mapstructure:"dsn"`
	Table            string        `mapstructure:"table"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	UpdateRetryDelay time.Duration `mapstructure:"update_retry_delay"`
	// Seed rows for the memory driver.
	Seed []SeedBatch `mapstructure:"seed"`
}

// SeedBatch is one job row for the memory driver.
type SeedBatch struct {
	ID         int64  `mapstructure:"id"`
	StartRange string `mapstructure:"start_range"`
	EndRange   string `mapstructure:"end_range"`
	Status     string `mapstructure:"status"`
}

// SearchConfig governs the external executable and its logs.
type SearchConfig struct {
	Executable      string        `mapstructure:"executable"`
	LogDir          string        `mapstructure:"log_dir"`
	PreviewInterval time.Duration `mapstructure:"preview_interval"`
	PreviewLines    int           `mapstructure:"preview_lines"`
	ClaimPause      time.Duration `mapstructure:"claim_pause"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	RedactedTarget  string        `mapstructure:"redacted_target"`
}

// DriverConfig controls the top-level polling loop.
type DriverConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Option adjusts the Viper instance before unmarshalling.
type Option func(v *viper.Viper) error

// WithFlag binds a command-line flag to a config key. Nil flags are ignored.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag.Name, err)
		}
		return nil
	}
}

// Load builds a Config from disk, environment, and bound flags.
func Load(path string, opts ...Option) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BATCHSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "batches")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", "0s")
	v.SetDefault("store.update_retry_delay", "2s")
	v.SetDefault("search.executable", "./log")
	v.SetDefault("search.log_dir", "xiebo_logs")
	v.SetDefault("search.preview_interval", "60s")
	v.SetDefault("search.preview_lines", 8)
	v.SetDefault("search.claim_pause", "500ms")
	v.SetDefault("search.process_timeout", "0s")
	v.SetDefault("search.redacted_target", "")
	v.SetDefault("driver.poll_interval", "2s")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Every problem is reported.
func (c Config) Validate() error {
	var errs *multierror.Error
	switch c.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = multierror.Append(errs, fmt.Errorf("store.driver must be %q or %q", DriverPostgres, DriverMemory))
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 {
		errs = multierror.Append(errs, fmt.Errorf("store.max_conns and store.min_conns must be >= 0"))
	}
	if c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns {
		errs = multierror.Append(errs, fmt.Errorf("store.min_conns must not exceed store.max_conns"))
	}
	if c.Store.UpdateRetryDelay < 0 {
		errs = multierror.Append(errs, fmt.Errorf("store.update_retry_delay must be >= 0"))
	}
	if strings.TrimSpace(c.Search.Executable) == "" {
		errs = multierror.Append(errs, fmt.Errorf("search.executable must be set"))
	}
	if strings.TrimSpace(c.Search.LogDir) == "" {
		errs = multierror.Append(errs, fmt.Errorf("search.log_dir must be set"))
	}
	if c.Search.PreviewInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("search.preview_interval must be > 0"))
	}
	if c.Search.PreviewLines <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("search.preview_lines must be > 0"))
	}
	if c.Search.ClaimPause < 0 {
		errs = multierror.Append(errs, fmt.Errorf("search.claim_pause must be >= 0"))
	}
	if c.Search.ProcessTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("search.process_timeout must be >= 0"))
	}
	if c.Driver.PollInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("driver.poll_interval must be > 0"))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = multierror.Append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireDSN reports an error when the postgres driver has no DSN.
// Single-shot mode never touches the store, so this is checked only where a store is built.
func (c Config) RequireDSN() error {
	if c.Store.Driver == DriverPostgres && strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("store.dsn must be set for the %s driver", DriverPostgres)
	}
	return nil
}
