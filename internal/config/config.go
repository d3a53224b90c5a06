package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"marketplace-repricer/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Automation AutomationConfig `mapstructure:"automation"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN keeps
// the service on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the optional settings read-through cache.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// SchedulerConfig governs the monitoring cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	AlignToStart bool          `mapstructure:"align_to_start"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Stagger      time.Duration `mapstructure:"stagger"`
}

// GatewayConfig covers the marketplace pricing API.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AutomationConfig seeds default per-product settings.
type AutomationConfig struct {
	Mode                      string  `mapstructure:"mode"`
	MaxPriceChangePercent     float64 `mapstructure:"max_price_change_pct"`
	MaxDailyChanges           int     `mapstructure:"max_daily_changes"`
	MinMinutesBetweenChanges  int     `mapstructure:"min_minutes_between_changes"`
	MonitoringIntervalMinutes int     `mapstructure:"monitoring_interval_minutes"`
}

// HTTPConfig configures the read-model API server.
type HTTPConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SimulatorConfig tunes the competitor price simulator used when no live
// discovery feed is wired.
type SimulatorConfig struct {
	Seed            int64   `mapstructure:"seed"`
	MaxDriftPercent float64 `mapstructure:"max_drift_pct"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "repricer")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_start", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.stagger", "1s")

	v.SetDefault("gateway.request_timeout", "10s")
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.backoff_base", "2s")
	v.SetDefault("gateway.user_agent", "repricer/1.0")

	v.SetDefault("automation.mode", "auto_confirm")
	v.SetDefault("automation.max_price_change_pct", 10.0)
	v.SetDefault("automation.max_daily_changes", 5)
	v.SetDefault("automation.min_minutes_between_changes", 0)
	v.SetDefault("automation.monitoring_interval_minutes", 5)

	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.request_timeout", "30s")

	v.SetDefault("simulator.seed", 0)
	v.SetDefault("simulator.max_drift_pct", 2.0)

	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Stagger < 0 {
		return fmt.Errorf("scheduler.stagger cannot be negative")
	}
	if c.Gateway.MaxAttempts <= 0 {
		return fmt.Errorf("gateway.max_attempts must be greater than zero")
	}
	switch c.Automation.Mode {
	case "manual", "auto_confirm", "auto":
	default:
		return fmt.Errorf("automation.mode must be manual, auto_confirm, or auto")
	}
	if c.Automation.MaxPriceChangePercent <= 0 || c.Automation.MaxPriceChangePercent > 100 {
		return fmt.Errorf("automation.max_price_change_pct must be in (0, 100]")
	}
	if c.Automation.MaxDailyChanges < 1 {
		return fmt.Errorf("automation.max_daily_changes must be at least 1")
	}
	if c.Automation.MinMinutesBetweenChanges < 0 {
		return fmt.Errorf("automation.min_minutes_between_changes cannot be negative")
	}
	if c.Automation.MonitoringIntervalMinutes < 1 {
		return fmt.Errorf("automation.monitoring_interval_minutes must be at least 1")
	}
	return nil
}
