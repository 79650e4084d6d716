// Package config handles TOML and YAML configuration for saasmeter.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied when fields are absent from the config file.
const (
	DefaultTimeout           = 60 * time.Second
	DefaultItemsPerPage      = 500
	DefaultConcurrency       = 8
	DefaultInterval          = 5 * time.Minute
	DefaultChartWindow       = time.Hour
	DefaultListen            = ":9184"
	DefaultNamespace         = "saasmeter"
	DefaultChartResultsField = "data"
)

// Config is the root configuration structure.
type Config struct {
	API       APIConfig       `toml:"api" yaml:"api"`
	Collector CollectorConfig `toml:"collector" yaml:"collector"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	OTEL      OTELConfig      `toml:"otel" yaml:"otel"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// APIConfig holds the upstream REST API settings.
type APIConfig struct {
	BaseURL           string        `toml:"base_url" yaml:"base_url"`
	TimeoutStr        string        `toml:"timeout" yaml:"timeout"`
	Timeout           time.Duration `toml:"-" yaml:"-"`
	ItemsPerPage      int           `toml:"items_per_page" yaml:"items_per_page"`
	ChartResultsField string        `toml:"chart_results_field" yaml:"chart_results_field"`
	RequestsPerSecond float64       `toml:"requests_per_second" yaml:"requests_per_second"`
	UserAgent         string        `toml:"user_agent" yaml:"user_agent"`
	Auth              AuthConfig    `toml:"auth" yaml:"auth"`
	TLS               TLSConfig     `toml:"tls" yaml:"tls"`
}

// AuthConfig selects how requests are authenticated.
// Secret fields accept "env:NAME" to read the value from the environment.
type AuthConfig struct {
	// Mode is one of: none | apikey | bearer | basic.
	Mode     string `toml:"mode" yaml:"mode"`
	Header   string `toml:"header" yaml:"header"`
	Key      string `toml:"key" yaml:"key"`
	Token    string `toml:"token" yaml:"token"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

// TLSConfig holds optional TLS dial options.
type TLSConfig struct {
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// CollectorConfig holds collection pass settings.
type CollectorConfig struct {
	Concurrency     int           `toml:"concurrency" yaml:"concurrency"`
	IntervalStr     string        `toml:"interval" yaml:"interval"`
	Interval        time.Duration `toml:"-" yaml:"-"`
	Schedule        string        `toml:"schedule" yaml:"schedule"`
	OneShot         bool          `toml:"one_shot" yaml:"one_shot"`
	HourlyRate      bool          `toml:"hourly_rate" yaml:"hourly_rate"`
	MonthlyCosts    bool          `toml:"monthly_costs" yaml:"monthly_costs"`
	ChartWindowStr  string        `toml:"chart_window" yaml:"chart_window"`
	ChartWindow     time.Duration `toml:"-" yaml:"-"`
	ChartBounded    bool          `toml:"chart_bounded" yaml:"chart_bounded"`
	IncludeProjects []string      `toml:"include_projects" yaml:"include_projects"`
	ExcludeProjects []string      `toml:"exclude_projects" yaml:"exclude_projects"`
}

// MetricsConfig holds the scrape endpoint settings.
type MetricsConfig struct {
	Listen    string `toml:"listen" yaml:"listen"`
	Namespace string `toml:"namespace" yaml:"namespace"`
	KeepStale bool   `toml:"keep_stale" yaml:"keep_stale"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string       `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool         `toml:"insecure" yaml:"insecure"`
	ServiceName string       `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig `toml:"traces" yaml:"traces"`
	Metrics     OTELMetrics  `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// OTELMetrics holds OTLP metric push settings.
type OTELMetrics struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns a config with every default applied and no base URL.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// Defaults are known-good durations.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a config file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.TimeoutStr == "" {
		cfg.API.TimeoutStr = DefaultTimeout.String()
	}
	if cfg.API.ItemsPerPage == 0 {
		cfg.API.ItemsPerPage = DefaultItemsPerPage
	}
	if cfg.API.ChartResultsField == "" {
		cfg.API.ChartResultsField = DefaultChartResultsField
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "saasmeter"
	}
	if cfg.API.Auth.Mode == "" {
		cfg.API.Auth.Mode = "none"
	}
	if cfg.API.Auth.Mode == "apikey" && cfg.API.Auth.Header == "" {
		cfg.API.Auth.Header = "Authorization"
	}
	if cfg.Collector.Concurrency == 0 {
		cfg.Collector.Concurrency = DefaultConcurrency
	}
	if cfg.Collector.IntervalStr == "" {
		cfg.Collector.IntervalStr = DefaultInterval.String()
	}
	if cfg.Collector.ChartWindowStr == "" {
		cfg.Collector.ChartWindowStr = DefaultChartWindow.String()
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultListen
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultNamespace
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "saasmeter"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.API.Timeout, err = parseDuration("api.timeout", cfg.API.TimeoutStr); err != nil {
		return err
	}
	if cfg.Collector.Interval, err = parseDuration("collector.interval", cfg.Collector.IntervalStr); err != nil {
		return err
	}
	if cfg.Collector.ChartWindow, err = parseDuration("collector.chart_window", cfg.Collector.ChartWindowStr); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api: base_url required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api: parse base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api: base_url scheme must be http or https (got %q)", u.Scheme)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api: timeout must be positive (got %v)", c.API.Timeout)
	}
	if c.API.ItemsPerPage < 1 || c.API.ItemsPerPage > DefaultItemsPerPage {
		return fmt.Errorf("api: items_per_page must be between 1 and %d (got %d)", DefaultItemsPerPage, c.API.ItemsPerPage)
	}
	if c.API.ChartResultsField != "data" && c.API.ChartResultsField != "array" {
		return fmt.Errorf("api: chart_results_field must be data or array (got %q)", c.API.ChartResultsField)
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api: requests_per_second must not be negative")
	}
	if err := c.API.Auth.validate(); err != nil {
		return err
	}
	if c.Collector.Concurrency < 1 {
		return fmt.Errorf("collector: concurrency must be at least 1 (got %d)", c.Collector.Concurrency)
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector: interval must be positive (got %v)", c.Collector.Interval)
	}
	if c.Collector.Schedule != "" {
		if _, err := cron.ParseStandard(c.Collector.Schedule); err != nil {
			return fmt.Errorf("collector: invalid schedule %q: %w", c.Collector.Schedule, err)
		}
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log: format must be console or json (got %q)", c.Log.Format)
	}
	return nil
}

func (a AuthConfig) validate() error {
	switch a.Mode {
	case "none":
	case "apikey":
		if a.Key == "" {
			return fmt.Errorf("api.auth: apikey mode requires key")
		}
	case "bearer":
		if a.Token == "" {
			return fmt.Errorf("api.auth: bearer mode requires token")
		}
	case "basic":
		if a.Username == "" {
			return fmt.Errorf("api.auth: basic mode requires username")
		}
	default:
		return fmt.Errorf("api.auth: unsupported mode %q", a.Mode)
	}
	return nil
}

// ResolveSecret returns v, or the named environment variable when v is "env:NAME".
func ResolveSecret(v string) string {
	if name, ok := strings.CutPrefix(v, "env:"); ok {
		return os.Getenv(name)
	}
	return v
}
