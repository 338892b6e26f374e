// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendFS       = "fs"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Download  DownloadConfig  `mapstructure:"download"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// PathsConfig locates everything the archiver reads or writes on disk.
type PathsConfig struct {
	SaveRoot      string `mapstructure:"save_root"`
	URLListFile   string `mapstructure:"url_list_file"`
	HeartbeatFile string `mapstructure:"heartbeat_file"`
	LockFile      string `mapstructure:"lock_file"`
	LedgerDB      string `mapstructure:"ledger_db"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the headless renderer.
type BrowserConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Headless           bool          `mapstructure:"headless"`
	ExecPath           string        `mapstructure:"exec_path"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	SourceTimeout      time.Duration `mapstructure:"source_timeout"`
	ContentTimeout     time.Duration `mapstructure:"content_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	NetworkIdleQuiet   time.Duration `mapstructure:"network_idle_quiet"`
	ScrollStep         int           `mapstructure:"scroll_step"`
	ScrollInterval     time.Duration `mapstructure:"scroll_interval"`
	HostQPS            float64       `mapstructure:"host_qps"`
	HostBurst          int           `mapstructure:"host_burst"`
}

// DownloadConfig configures direct image fetches.
type DownloadConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// FilterConfig sets the minimum page dimensions.
type FilterConfig struct {
	MinWidth  int `mapstructure:"min_width"`
	MinHeight int `mapstructure:"min_height"`
}

// ProcessorConfig controls retries and pacing within one source.
type ProcessorConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	MetadataRetries    int           `mapstructure:"metadata_retries"`
	MetadataRetryDelay time.Duration `mapstructure:"metadata_retry_delay"`
	ListingDelay       time.Duration `mapstructure:"listing_delay"`
	EmptyBackoff       time.Duration `mapstructure:"empty_backoff"`
	ChapterDelay       time.Duration `mapstructure:"chapter_delay"`
}

// SchedulerConfig controls the self-service wait between sweeps.
type SchedulerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTicks    int           `mapstructure:"heartbeat_ticks"`
}

// StoreConfig selects how archived chapters are remembered.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ServerConfig controls the optional ops HTTP server. Empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig enables OpenTelemetry spans. Empty File writes to stderr.
type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// Load builds a Config from disk/environment. With an empty path the
// working directory, $HOME/.mangashelf and /etc/mangashelf are searched for
// a mangashelf config file; none found is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MANGASHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("mangashelf")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mangashelf")
		v.AddConfigPath("/etc/mangashelf")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("paths.save_root", "downloads")
	v.SetDefault("paths.url_list_file", "urls.txt")
	v.SetDefault("paths.heartbeat_file", "downloads/.heartbeat")
	v.SetDefault("paths.lock_file", "downloads/.mangashelf.lock")
	v.SetDefault("paths.ledger_db", "downloads/.mangashelf.db")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout", "45s")
	v.SetDefault("browser.source_timeout", "5s")
	v.SetDefault("browser.content_timeout", "30s")
	v.SetDefault("browser.network_idle_timeout", "10s")
	v.SetDefault("browser.network_idle_quiet", "500ms")
	v.SetDefault("browser.scroll_step", 100)
	v.SetDefault("browser.scroll_interval", "100ms")
	v.SetDefault("browser.host_qps", 1.0)
	v.SetDefault("browser.host_burst", 4)
	v.SetDefault("download.timeout", "30s")
	v.SetDefault("download.max_body_bytes", 64<<20)
	v.SetDefault("filter.min_width", 200)
	v.SetDefault("filter.min_height", 300)
	v.SetDefault("processor.max_retries", 3)
	v.SetDefault("processor.metadata_retries", 3)
	v.SetDefault("processor.metadata_retry_delay", "20s")
	v.SetDefault("processor.listing_delay", "5s")
	v.SetDefault("processor.empty_backoff", "15s")
	v.SetDefault("processor.chapter_delay", "15s")
	v.SetDefault("scheduler.heartbeat_interval", "10m")
	v.SetDefault("scheduler.heartbeat_ticks", 6)
	v.SetDefault("store.backend", BackendFS)
	v.SetDefault("store.table", "archives")
	v.SetDefault("tracing.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Paths.SaveRoot == "" {
		return fmt.Errorf("paths.save_root is required")
	}
	if c.Paths.URLListFile == "" {
		return fmt.Errorf("paths.url_list_file is required")
	}
	if c.Paths.HeartbeatFile == "" {
		return fmt.Errorf("paths.heartbeat_file is required")
	}
	if c.Filter.MinWidth < 0 || c.Filter.MinHeight < 0 {
		return fmt.Errorf("filter dimensions must be >= 0")
	}
	if c.Processor.MaxRetries <= 0 {
		return fmt.Errorf("processor.max_retries must be > 0")
	}
	if c.Processor.MetadataRetries <= 0 {
		return fmt.Errorf("processor.metadata_retries must be > 0")
	}
	if c.Scheduler.HeartbeatInterval <= 0 {
		return fmt.Errorf("scheduler.heartbeat_interval must be > 0")
	}
	if c.Scheduler.HeartbeatTicks <= 0 {
		return fmt.Errorf("scheduler.heartbeat_ticks must be > 0")
	}
	if c.Browser.HostQPS < 0 {
		return fmt.Errorf("browser.host_qps must be >= 0")
	}
	switch c.Store.Backend {
	case BackendFS:
	case BackendSQLite:
		if c.Paths.LedgerDB == "" {
			return fmt.Errorf("paths.ledger_db must be set for the sqlite store")
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

// SweepCeiling is the longest self-service wait between sweeps.
func (c Config) SweepCeiling() time.Duration {
	return c.Scheduler.HeartbeatInterval * time.Duration(c.Scheduler.HeartbeatTicks)
}
