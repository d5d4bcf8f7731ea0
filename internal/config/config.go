package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/sentinel/internal/aggregate"
	"github.com/obsidianstack/sentinel/internal/dedup"
	"github.com/obsidianstack/sentinel/internal/enrich"
	"github.com/obsidianstack/sentinel/internal/history"
	"github.com/obsidianstack/sentinel/internal/logging"
	"github.com/obsidianstack/sentinel/internal/notify"
	"github.com/obsidianstack/sentinel/internal/plugin"
	"github.com/obsidianstack/sentinel/internal/probe"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort   = 8080
	DefaultWSInterval = 5 * time.Second
)

// Config is the top-level configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logging.Config  `yaml:"log"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Probes    []probe.Config  `yaml:"probes"`
	Notifiers []notify.Config `yaml:"notifiers"`
	Plugins   []plugin.Spec   `yaml:"plugins"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket stream listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth guards the write routes.
	Auth AuthConfig `yaml:"auth"`

	// WSInterval is how often the status snapshot is pushed to stream clients.
	WSInterval time.Duration `yaml:"ws_interval"`
}

// AuthConfig controls client authentication on the API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header carries the key. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// DedupConfig controls alert deduplication.
type DedupConfig struct {
	// Cooldown is the window during which identical alerts are suppressed.
	Cooldown time.Duration `yaml:"cooldown"`

	// Disabled turns deduplication off.
	Disabled bool `yaml:"disabled"`
}

// AggregateConfig controls request aggregation.
type AggregateConfig struct {
	Interval   time.Duration        `yaml:"interval"`
	Thresholds aggregate.Thresholds `yaml:"thresholds"`
}

// EnrichConfig enables LLM analysis of alerts.
type EnrichConfig struct {
	Enabled       bool `yaml:"enabled"`
	enrich.Config `yaml:",inline"`
}

// Provider returns the enrich configuration with the API key resolved.
func (e EnrichConfig) Provider() enrich.Config {
	c := e.Config
	if c.APIKeyEnv != "" {
		c.APIKey = os.Getenv(c.APIKeyEnv)
	}
	return c
}

// HistoryConfig controls the in-memory alert history.
type HistoryConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Load reads, expands and parses the config file at path. Missing fields are
// filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:   DefaultHTTPPort,
			WSInterval: DefaultWSInterval,
		},
		Log: logging.Config{Level: "info", Format: "json", Output: "stdout"},
		Dedup: DedupConfig{
			Cooldown: dedup.DefaultCooldown,
		},
		Aggregate: AggregateConfig{
			Interval:   aggregate.DefaultInterval,
			Thresholds: aggregate.DefaultThresholds(),
		},
		History: HistoryConfig{TTL: history.DefaultTTL},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey":
		if cfg.Server.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.WSInterval < 0 {
		return fmt.Errorf("server.ws_interval must not be negative")
	}
	if err := cfg.Log.Validate(); err != nil {
		return err
	}
	if cfg.Dedup.Cooldown < 0 {
		return fmt.Errorf("dedup.cooldown must not be negative")
	}
	if cfg.Aggregate.Interval <= 0 {
		return fmt.Errorf("aggregate.interval must be positive")
	}
	if err := cfg.Aggregate.Thresholds.Validate(); err != nil {
		return fmt.Errorf("aggregate.thresholds: %w", err)
	}
	if cfg.History.TTL < 0 {
		return fmt.Errorf("history.ttl must not be negative")
	}

	// The manager validates, applies defaults and rejects duplicate names.
	if _, err := probe.NewManager(cfg.Probes, nil); err != nil {
		return err
	}
	for i, n := range cfg.Notifiers {
		if n.Name == "" {
			cfg.Notifiers[i].Name = n.Type
		}
		if err := cfg.Notifiers[i].Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("plugins[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if _, err := plugin.FromSpec(p); err != nil {
			return err
		}
	}
	if cfg.Enrich.Enabled {
		if cfg.Enrich.Endpoint == "" || cfg.Enrich.Model == "" {
			return fmt.Errorf("enrich: endpoint and model are required when enabled")
		}
		if cfg.Enrich.APIKeyEnv == "" {
			return fmt.Errorf("enrich.api_key_env is required when enabled")
		}
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. An unset or empty VAR
// yields the default, or "" when none is given. Bare $VAR is left alone so
// literal dollar signs survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v := os.Getenv(string(sub[1])); v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}
