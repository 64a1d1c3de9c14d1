// ABOUTME: Configuration loading and parsing for scheme-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scheme-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Schemes   SchemesConfig   `yaml:"schemes"`
	Datastore DatastoreConfig `yaml:"datastore"`
	Sync      SyncConfig      `yaml:"sync"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve over HTTPS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// UpstreamConfig holds the answer provider configuration
type UpstreamConfig struct {
	Host         string `yaml:"host"`
	ProjectID    string `yaml:"project_id"`
	EngineID     string `yaml:"engine_id"`
	ModelVersion string `yaml:"model_version"`
	Preamble     string `yaml:"preamble"`
	LanguageCode string `yaml:"language_code"`
	PageSize     int    `yaml:"page_size"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SchemesConfig holds the scheme registry endpoints and credentials
type SchemesConfig struct {
	TokenURL   string `yaml:"token_url"`
	ListURL    string `yaml:"list_url"`
	DetailsURL string `yaml:"details_url"`
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	StateCode  string `yaml:"state_code"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// DatastoreConfig holds the document upload endpoint configuration
type DatastoreConfig struct {
	UploadBaseURL string `yaml:"upload_base_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SyncConfig bounds the hierarchy sync fan-out
type SyncConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A plain HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	if c.Upstream.ProjectID == "" {
		return fmt.Errorf("upstream.project_id is required")
	}
	if c.Upstream.EngineID == "" {
		return fmt.Errorf("upstream.engine_id is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Sync.MaxInFlight < 0 {
		return fmt.Errorf("sync.max_in_flight must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Upstream.TimeoutRaw != "" {
		cfg.Upstream.Timeout, err = time.ParseDuration(cfg.Upstream.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream timeout %q: %w", cfg.Upstream.TimeoutRaw, err)
		}
	}

	if cfg.Schemes.TimeoutRaw != "" {
		cfg.Schemes.Timeout, err = time.ParseDuration(cfg.Schemes.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing schemes timeout %q: %w", cfg.Schemes.TimeoutRaw, err)
		}
	}

	if cfg.Datastore.TimeoutRaw != "" {
		cfg.Datastore.Timeout, err = time.ParseDuration(cfg.Datastore.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing datastore timeout %q: %w", cfg.Datastore.TimeoutRaw, err)
		}
	}

	return nil
}
