package probe

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Type is the kind of check a probe performs.
type Type string

// Probe types.
const (
	TypeHTTP    Type = "http"
	TypeTCP     Type = "tcp"
	TypeCustom  Type = "custom"
	TypeMetrics Type = "metrics"
)

// Default values applied when fields are absent.
const (
	DefaultInterval            = 30 * time.Second
	DefaultTimeout             = 5 * time.Second
	DefaultFailuresForCritical = 3
	DefaultExpectedStatus      = 200

	// MaxRedirects caps redirects followed by an http probe.
	MaxRedirects = 5
)

// CheckResult is returned by custom checks.
type CheckResult struct {
	Healthy bool
	Message string
}

// CheckFunc is a user-supplied health predicate. A returned error (or a panic)
// counts as a failure carrying the error's message.
type CheckFunc func(ctx context.Context) (CheckResult, error)

// Config describes one probe. It is immutable once passed to NewManager.
type Config struct {
	// Name identifies the probe in alerts and status output. Must be unique.
	Name string `yaml:"name"`

	// Type is one of: http | tcp | custom.
	Type Type `yaml:"type"`

	// Interval is the polling period (default 30s).
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single check (default 5s).
	Timeout time.Duration `yaml:"timeout"`

	// FailuresForCritical is the consecutive failure count at which alerts
	// escalate from WARNING to CRITICAL (default 3).
	FailuresForCritical int `yaml:"failures_for_critical"`

	// HTTP fields, used when Type == "http". URL, Headers and
	// InsecureSkipVerify also apply to "metrics".
	URL                string            `yaml:"url"`
	Method             string            `yaml:"method"`
	ExpectedStatus     int               `yaml:"expected_status"`
	Headers            map[string]string `yaml:"headers"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`

	// FollowRedirects defaults to true. Set it to false to compare a 3xx
	// status itself against ExpectedStatus.
	FollowRedirects *bool `yaml:"follow_redirects"`

	// Rules are evaluated against a Prometheus exposition at URL when
	// Type == "metrics".
	Rules []MetricRule `yaml:"rules"`

	// TCP fields, used when Type == "tcp".
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Check is the predicate for Type == "custom". Custom probes are registered
	// from code, never from YAML.
	Check CheckFunc `yaml:"-"`
}

func (c Config) followRedirects() bool {
	return c.FollowRedirects == nil || *c.FollowRedirects
}

// withDefaults returns c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailuresForCritical == 0 {
		c.FailuresForCritical = DefaultFailuresForCritical
	}
	if c.Type == TypeHTTP {
		if c.Method == "" {
			c.Method = "GET"
		}
		if c.ExpectedStatus == 0 {
			c.ExpectedStatus = DefaultExpectedStatus
		}
	}
	return c
}

// Validate checks required fields and structural constraints. It is called on
// the defaulted config.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("probe: name is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("probe %q: interval must be positive", c.Name)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("probe %q: timeout must be positive", c.Name)
	}
	if c.FailuresForCritical < 1 {
		return fmt.Errorf("probe %q: failures_for_critical must be at least 1", c.Name)
	}

	switch c.Type {
	case TypeHTTP:
		u, err := url.Parse(c.URL)
		if err != nil || c.URL == "" {
			return fmt.Errorf("probe %q: valid url is required", c.Name)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("probe %q: url scheme %q unsupported: want http|https", c.Name, u.Scheme)
		}
		if c.ExpectedStatus < 100 || c.ExpectedStatus > 599 {
			return fmt.Errorf("probe %q: expected_status %d is not an HTTP status", c.Name, c.ExpectedStatus)
		}
	case TypeTCP:
		if c.Host == "" {
			return fmt.Errorf("probe %q: host is required", c.Name)
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("probe %q: port %d is out of range [1, 65535]", c.Name, c.Port)
		}
	case TypeMetrics:
		u, err := url.Parse(c.URL)
		if err != nil || c.URL == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("probe %q: valid http(s) url is required", c.Name)
		}
		if len(c.Rules) == 0 {
			return fmt.Errorf("probe %q: metrics probe needs at least one rule", c.Name)
		}
		for i, r := range c.Rules {
			if err := r.validate(); err != nil {
				return fmt.Errorf("probe %q: rules[%d]: %w", c.Name, i, err)
			}
		}
	case TypeCustom:
		if c.Check == nil {
			return fmt.Errorf("probe %q: custom probe needs a check function", c.Name)
		}
	default:
		return fmt.Errorf("probe %q: unknown type %q: want http|tcp|metrics|custom", c.Name, c.Type)
	}
	return nil
}
