// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scraping-service/internal/scraper"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_SERVER_PORT.
const EnvPrefix = "SCRAPER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ScraperConfig governs admission and search behavior.
type ScraperConfig struct {
	ConcurrencyLimit   int    `mapstructure:"concurrency_limit"`
	DefaultWaitSeconds int    `mapstructure:"default_wait_seconds"`
	SearchURLTemplate  string `mapstructure:"search_url_template"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	ProxyAddress      string   `mapstructure:"proxy_address"`
	BypassList        []string `mapstructure:"bypass_list"`
	Headless          bool     `mapstructure:"headless"`
	ExecPath          string   `mapstructure:"exec_path"`
	NoSandbox         bool     `mapstructure:"no_sandbox"`
	UserAgent         string   `mapstructure:"user_agent"`
	WindowWidth       int      `mapstructure:"window_width"`
	WindowHeight      int      `mapstructure:"window_height"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	DomainQPS         float64  `mapstructure:"domain_qps"`
}

// RetryConfig configures backoff around each browser fetch.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig toggles zap development features and the optional log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout", 6*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("scraper.concurrency_limit", 5)
	v.SetDefault("scraper.default_wait_seconds", 5)
	v.SetDefault("scraper.search_url_template", scraper.DefaultSearchURLTemplate)
	v.SetDefault("browser.proxy_address", "")
	v.SetDefault("browser.bypass_list", []string{
		"edgedl.me.gvt1.com",
		"optimizationguide-pa.googleapis.com",
		"accounts.google.com",
		"https://example.com/",
	})
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.domain_qps", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 2*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", time.Duration(0))
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
	v.SetDefault("telemetry.service_name", "scraping-service")
	v.SetDefault("telemetry.tracing_enabled", false)
}

// bindLegacyEnv keeps the unprefixed variable names older deployments set.
// The prefixed name wins when both are present.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"scraper.concurrency_limit": "CONCURRENCY_LIMIT",
		"browser.proxy_address":     "PROXY_ADDRESS",
	}
	for key, name := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind env %s: %w", name, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Scraper.ConcurrencyLimit <= 0 {
		return fmt.Errorf("scraper.concurrency_limit must be > 0")
	}
	if c.Scraper.DefaultWaitSeconds < scraper.MinWaitSeconds || c.Scraper.DefaultWaitSeconds > scraper.MaxWaitSeconds {
		return fmt.Errorf("scraper.default_wait_seconds must be between %d and %d",
			scraper.MinWaitSeconds, scraper.MaxWaitSeconds)
	}
	if err := scraper.ValidateSearchTemplate(c.Scraper.SearchURLTemplate); err != nil {
		return fmt.Errorf("scraper.search_url_template: %w", err)
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.DomainQPS < 0 {
		return fmt.Errorf("browser.domain_qps must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	return nil
}

// DefaultWait converts the configured default wait into a duration.
func (c Config) DefaultWait() time.Duration {
	return time.Duration(c.Scraper.DefaultWaitSeconds) * time.Second
}

// NavigationTimeout converts the per-navigation bound into a duration.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}
