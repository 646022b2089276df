package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dns-router/pkg/wire"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" toml:"server"`

	// Upstream resolver that receives every query no route answers
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`

	// TTL in seconds written into synthesized A records. Zero or unset
	// means the default of 1; a zero TTL cannot be configured.
	AnswerTTL uint32 `yaml:"answer_ttl" toml:"answer_ttl"`

	// Ordered routing rules, first match wins
	Routes []RouteConfig `yaml:"routes" toml:"routes"`

	// Resolver used to turn hostname targets into addresses
	Resolver ResolverConfig `yaml:"resolver" toml:"resolver"`

	// Event log
	Storage StorageConfig `yaml:"storage" toml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging" toml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`

	// Per-client query rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`

	// Admin HTTP API
	API APIConfig `yaml:"api" toml:"api"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address" toml:"listen_address"`
}

// UpstreamConfig holds fallback proxy settings
type UpstreamConfig struct {
	Address string        `yaml:"address" toml:"address"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"` // negative waits until shutdown
}

// RouteConfig is one routing rule. Exactly one of Address or Expr is set.
// An empty pattern list matches every domain.
type RouteConfig struct {
	Patterns []string `yaml:"patterns" toml:"patterns"`
	Address  string   `yaml:"address" toml:"address"` // IPv4 literal or hostname
	Expr     string   `yaml:"expr" toml:"expr"`       // expression evaluated per query
}

// ResolverConfig holds settings for resolving hostname route targets
type ResolverConfig struct {
	Upstreams []string      `yaml:"upstreams" toml:"upstreams"` // empty uses the host resolver
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	Strict    bool          `yaml:"strict" toml:"strict"` // never fall back to the host resolver
}

// StorageConfig holds event log settings
type StorageConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	DatabasePath  string        `yaml:"database_path" toml:"database_path"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days" toml:"retention_days"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`           // debug, info, warn, error
	Format    string `yaml:"format" toml:"format"`         // json, text
	Output    string `yaml:"output" toml:"output"`         // stdout, stderr, file
	FilePath  string `yaml:"file_path" toml:"file_path"`   // if output=file
	AddSource bool   `yaml:"add_source" toml:"add_source"` // include source file/line
}

// RateLimitConfig controls per-client token buckets. Queries over the
// limit are dropped without a response.
type RateLimitConfig struct {
	Enabled           bool                `yaml:"enabled" toml:"enabled"`
	RequestsPerSecond float64             `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int                 `yaml:"burst" toml:"burst"`
	CleanupInterval   time.Duration       `yaml:"cleanup_interval" toml:"cleanup_interval"`
	MaxTrackedClients int                 `yaml:"max_tracked_clients" toml:"max_tracked_clients"`
	Overrides         []RateLimitOverride `yaml:"overrides" toml:"overrides"`
}

// RateLimitOverride applies a different limit to clients matched by IP or
// CIDR. Nil fields inherit the global value.
type RateLimitOverride struct {
	Name              string   `yaml:"name" toml:"name"`
	Clients           []string `yaml:"clients" toml:"clients"`
	RequestsPerSecond *float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             *int     `yaml:"burst" toml:"burst"`
}

// APIConfig holds admin API settings. Authentication is enabled when a
// username or API key is set.
type APIConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" toml:"listen_address"`
	Username      string `yaml:"username" toml:"username"`
	PasswordHash  string `yaml:"password_hash" toml:"password_hash"` // bcrypt
	APIKey        string `yaml:"api_key" toml:"api_key"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled" toml:"enabled"`
	ServiceName       string `yaml:"service_name" toml:"service_name"`
	ServiceVersion    string `yaml:"service_version" toml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled" toml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port" toml:"prometheus_port"`
	TracingEnabled    bool   `yaml:"tracing_enabled" toml:"tracing_enabled"`
}

// Load loads the configuration from a YAML or TOML file. The format is
// picked from the file extension; anything but .toml is read as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":53"
	}

	if c.Upstream.Address == "" {
		c.Upstream.Address = "8.8.8.8:53"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 5 * time.Second
	}

	if c.AnswerTTL == 0 {
		c.AnswerTTL = wire.DefaultTTL
	}

	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 2 * time.Second
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./dns-router.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 5 * time.Second
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "dns-router"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.RateLimit.CleanupInterval == 0 {
		c.RateLimit.CleanupInterval = time.Minute
	}
	if c.RateLimit.MaxTrackedClients == 0 {
		c.RateLimit.MaxTrackedClients = 10000
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if c.Upstream.Address == "" {
		return fmt.Errorf("upstream.address cannot be empty")
	}

	for i, r := range c.Routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	if c.Storage.Enabled && c.Storage.BufferSize < 0 {
		return fmt.Errorf("storage.buffer_size cannot be negative")
	}

	if c.RateLimit.Enabled {
		if err := c.RateLimit.Validate(); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}

	if c.API.Enabled && c.API.Username != "" && c.API.PasswordHash == "" {
		return fmt.Errorf("api.password_hash must be set when api.username is set")
	}

	return nil
}

// Validate checks a single routing rule.
func (r RouteConfig) Validate() error {
	for _, p := range r.Patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty pattern")
		}
	}

	hasAddr := strings.TrimSpace(r.Address) != ""
	hasExpr := strings.TrimSpace(r.Expr) != ""
	switch {
	case hasAddr && hasExpr:
		return fmt.Errorf("address and expr are mutually exclusive")
	case !hasAddr && !hasExpr:
		return fmt.Errorf("one of address or expr is required")
	}

	// A dotted-decimal target is taken as an IPv4 literal and must be one.
	if hasAddr && looksNumeric(r.Address) {
		if _, err := wire.IPv4ToUint32(r.Address); err != nil {
			return err
		}
	}
	return nil
}

func looksNumeric(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return s != ""
}

// Validate checks limits and override client specs.
func (r RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if r.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}
	for i, o := range r.Overrides {
		if len(o.Clients) == 0 {
			return fmt.Errorf("overrides[%d]: no clients", i)
		}
		for _, c := range o.Clients {
			if _, err := ParseClient(c); err != nil {
				return fmt.Errorf("overrides[%d]: %w", i, err)
			}
		}
		if o.RequestsPerSecond != nil && *o.RequestsPerSecond <= 0 {
			return fmt.Errorf("overrides[%d]: requests_per_second must be positive", i)
		}
		if o.Burst != nil && *o.Burst <= 0 {
			return fmt.Errorf("overrides[%d]: burst must be positive", i)
		}
	}
	return nil
}

// ParseClient parses an IP address or CIDR into a prefix. A bare address
// becomes a single-host prefix.
func ParseClient(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid client CIDR %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid client address %q: %w", s, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
