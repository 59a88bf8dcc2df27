package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// projectConfigNames are looked for, in order, in each directory walked.
var projectConfigNames = []string{".otlp-charts.json", ".otlp-charts.yaml", ".otlp-charts.yml"}

// Config holds the runtime configuration for otlp-charts.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// Buffer sizes
	TraceBufferSize  int `json:"trace_buffer_size,omitempty" yaml:"trace_buffer_size,omitempty"`
	MetricBufferSize int `json:"metric_buffer_size,omitempty" yaml:"metric_buffer_size,omitempty"`

	// OTLP server configuration
	OTLPHost string `json:"otlp_host,omitempty" yaml:"otlp_host,omitempty"`
	OTLPPort int    `json:"otlp_port,omitempty" yaml:"otlp_port,omitempty"`

	// MCP transport configuration
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"` // "stdio" (default), "http" or "none"
	Stateless bool   `json:"stateless,omitempty" yaml:"stateless,omitempty"` // Run HTTP transport in stateless mode

	// HTTP server for the web UI, /metrics and /mcp
	HTTPHost string `json:"http_host,omitempty" yaml:"http_host,omitempty"`
	HTTPPort int    `json:"http_port,omitempty" yaml:"http_port,omitempty"`

	// Charts
	ChartDuration string `json:"chart_duration,omitempty" yaml:"chart_duration,omitempty"` // e.g. "5m"
	TickInterval  string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`   // e.g. "1s"
	PollInterval  string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`   // span wait polling, e.g. "500ms"
	BucketCount   int    `json:"bucket_count,omitempty" yaml:"bucket_count,omitempty"`
	Percentiles   []int  `json:"percentiles,omitempty" yaml:"percentiles,omitempty"`
	Use24Hour     bool   `json:"use_24_hour,omitempty" yaml:"use_24_hour,omitempty"`
	TimeZone      string `json:"time_zone,omitempty" yaml:"time_zone,omitempty"` // IANA name; empty = local
	Locale        string `json:"locale,omitempty" yaml:"locale,omitempty"`       // BCP 47 tag for number formatting, e.g. "de-DE"

	// File ingest
	FileSources []string `json:"file_sources,omitempty" yaml:"file_sources,omitempty"`
	ActiveOnly  bool     `json:"active_only,omitempty" yaml:"active_only,omitempty"`
	OtelConfig  string   `json:"otel_config,omitempty" yaml:"otel_config,omitempty"` // Collector config to discover file exporters

	// Self telemetry
	TelemetryEndpoint string `json:"telemetry_endpoint,omitempty" yaml:"telemetry_endpoint,omitempty"`

	// Logging configuration
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"` // "console" or "json"
	Verbose   bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// 10,000 spans, 100,000 metrics, OTLP on an ephemeral localhost port, MCP
// on stdio and the web UI on 127.0.0.1:4380.
func DefaultConfig() *Config {
	return &Config{
		TraceBufferSize:  10_000,
		MetricBufferSize: 100_000,
		OTLPHost:         "127.0.0.1",
		OTLPPort:         0, // 0 means ephemeral port assignment
		Transport:        "stdio",
		HTTPHost:         "127.0.0.1",
		HTTPPort:         4380,
		ChartDuration:    "5m",
		TickInterval:     "1s",
		PollInterval:     "500ms",
		BucketCount:      60,
		Percentiles:      []int{50, 90, 99},
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// LoadConfigFromFile loads configuration from a JSON or YAML file, chosen
// by extension (.yaml and .yml are YAML, anything else JSON).
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .otlp-charts.json or .otlp-charts.yaml
// file starting in dir and walking up, stopping at a .git directory
// (project root) or the filesystem root.
func FindProjectConfig(dir string) (string, error) {
	for {
		for _, name := range projectConfigNames {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file,
// ~/.config/otlp-charts/config.json.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "otlp-charts", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Zero values in overlay leave base untouched. Returns a new Config.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.TraceBufferSize > 0 {
		merged.TraceBufferSize = overlay.TraceBufferSize
	}
	if overlay.MetricBufferSize > 0 {
		merged.MetricBufferSize = overlay.MetricBufferSize
	}

	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}

	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}
	if overlay.Stateless {
		merged.Stateless = true
	}
	if overlay.HTTPHost != "" {
		merged.HTTPHost = overlay.HTTPHost
	}
	if overlay.HTTPPort > 0 {
		merged.HTTPPort = overlay.HTTPPort
	}

	if overlay.ChartDuration != "" {
		merged.ChartDuration = overlay.ChartDuration
	}
	if overlay.TickInterval != "" {
		merged.TickInterval = overlay.TickInterval
	}
	if overlay.PollInterval != "" {
		merged.PollInterval = overlay.PollInterval
	}
	if overlay.BucketCount > 0 {
		merged.BucketCount = overlay.BucketCount
	}
	if len(overlay.Percentiles) > 0 {
		merged.Percentiles = overlay.Percentiles
	}
	if overlay.Use24Hour {
		merged.Use24Hour = true
	}
	if overlay.TimeZone != "" {
		merged.TimeZone = overlay.TimeZone
	}
	if overlay.Locale != "" {
		merged.Locale = overlay.Locale
	}

	// File sources accumulate across layers.
	merged.FileSources = slices.Clone(base.FileSources)
	for _, dir := range overlay.FileSources {
		if !slices.Contains(merged.FileSources, dir) {
			merged.FileSources = append(merged.FileSources, dir)
		}
	}
	if overlay.ActiveOnly {
		merged.ActiveOnly = true
	}
	if overlay.OtelConfig != "" {
		merged.OtelConfig = overlay.OtelConfig
	}

	if overlay.TelemetryEndpoint != "" {
		merged.TelemetryEndpoint = overlay.TelemetryEndpoint
	}

	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		merged.LogFormat = overlay.LogFormat
	}
	if overlay.Verbose {
		merged.Verbose = true
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists and no explicit path is given)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Errors in the optional global config are ignored.
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		if projectPath, err := FindProjectConfig(wd); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}

// ChartSettings are the parsed chart options of a Config.
type ChartSettings struct {
	Duration     time.Duration
	TickInterval time.Duration
	PollInterval time.Duration
	Location     *time.Location // nil = local time
	Language     language.Tag   // Und = English
}

// Validate checks enumerations and parses durations, the time zone and the
// locale.
func (c *Config) Validate() (ChartSettings, error) {
	var s ChartSettings

	switch c.Transport {
	case "stdio", "http", "none":
	default:
		return s, fmt.Errorf("invalid transport %q: must be stdio, http or none", c.Transport)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return s, fmt.Errorf("invalid log format %q: must be console or json", c.LogFormat)
	}

	var err error
	if s.Duration, err = parsePositiveDuration("chart_duration", c.ChartDuration); err != nil {
		return s, err
	}
	if s.TickInterval, err = parsePositiveDuration("tick_interval", c.TickInterval); err != nil {
		return s, err
	}
	if s.PollInterval, err = parsePositiveDuration("poll_interval", c.PollInterval); err != nil {
		return s, err
	}

	if c.BucketCount < 2 {
		return s, fmt.Errorf("bucket_count must be at least 2, got %d", c.BucketCount)
	}
	for _, p := range c.Percentiles {
		if p <= 0 || p >= 100 {
			return s, fmt.Errorf("percentile %d out of range (1-99)", p)
		}
	}

	if c.TimeZone != "" {
		if s.Location, err = time.LoadLocation(c.TimeZone); err != nil {
			return s, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
		}
	}
	if c.Locale != "" {
		if s.Language, err = language.Parse(c.Locale); err != nil {
			return s, fmt.Errorf("invalid locale %q: %w", c.Locale, err)
		}
	}

	return s, nil
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}

// ParsePercentiles parses a comma separated list such as "50,90,99".
func ParsePercentiles(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile %q: %w", part, err)
		}
		out = append(out, p)
	}
	return out, nil
}
