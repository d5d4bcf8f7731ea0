package plugin

import (
	"context"
	"fmt"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Spec describes a built-in plugin in configuration.
type Spec struct {
	// Name is the unique plugin name.
	Name string `yaml:"name"`

	// Type is one of: drop | min_severity | title_prefix | tag.
	Type string `yaml:"type"`

	// Condition is the drop expression, e.g. "severity == info".
	Condition string `yaml:"condition"`

	// Severity is the minimum severity for min_severity.
	Severity string `yaml:"severity"`

	// Prefix is prepended to titles by title_prefix.
	Prefix string `yaml:"prefix"`

	// Key and Value are attached to Metrics by tag.
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// FromSpec builds the built-in plugin described by s.
func FromSpec(s Spec) (Plugin, error) {
	switch s.Type {
	case "drop":
		return Drop(s.Name, s.Condition)
	case "min_severity":
		sev, err := alert.ParseSeverity(s.Severity)
		if err != nil {
			return Plugin{}, fmt.Errorf("plugin %q: %w", s.Name, err)
		}
		return MinSeverity(s.Name, sev), nil
	case "title_prefix":
		if s.Prefix == "" {
			return Plugin{}, fmt.Errorf("plugin %q: prefix is required", s.Name)
		}
		return TitlePrefix(s.Name, s.Prefix), nil
	case "tag":
		if s.Key == "" {
			return Plugin{}, fmt.Errorf("plugin %q: key is required", s.Name)
		}
		return Tag(s.Name, s.Key, s.Value), nil
	default:
		return Plugin{}, fmt.Errorf("plugin %q: unknown type %q", s.Name, s.Type)
	}
}

// Drop suppresses every alert matching expr.
func Drop(name, expr string) (Plugin, error) {
	cond, err := parseCondition(expr)
	if err != nil {
		return Plugin{}, fmt.Errorf("plugin %q: %w", name, err)
	}
	return Plugin{
		Name: name,
		OnAlert: func(_ context.Context, a alert.Alert) (*alert.Alert, error) {
			if cond.match(a) {
				return nil, nil
			}
			return &a, nil
		},
	}, nil
}

// MinSeverity vetoes delivery of alerts below sev.
func MinSeverity(name string, sev alert.Severity) Plugin {
	return Plugin{
		Name: name,
		OnBeforeNotify: func(_ context.Context, a alert.Alert) (bool, error) {
			return a.Severity.Rank() >= sev.Rank(), nil
		},
	}
}

// TitlePrefix prepends prefix to every alert title.
func TitlePrefix(name, prefix string) Plugin {
	return Plugin{
		Name: name,
		OnAlert: func(_ context.Context, a alert.Alert) (*alert.Alert, error) {
			a.Title = prefix + a.Title
			return &a, nil
		},
	}
}

// Tag sets Metrics[key] = value on every alert.
func Tag(name, key, value string) Plugin {
	return Plugin{
		Name: name,
		OnAlert: func(_ context.Context, a alert.Alert) (*alert.Alert, error) {
			out := a.WithMetric(key, value)
			return &out, nil
		},
	}
}
