package alert

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the urgency level of an Alert.
type Severity string

// Severity levels, lowest first.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity accepts any casing of info | warning | critical.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("unknown severity %q: want info|warning|critical", s)
	}
}

// Rank orders severities for comparisons. Unknown severities rank below INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Alert is a single alert event. It is passed by value through the pipeline;
// stages that change it return a new value.
type Alert struct {
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Fingerprint returns the deduplication identity of a: severity and title.
// Message and metrics do not participate.
func (a Alert) Fingerprint() string {
	return Fingerprint(a.Severity, a.Title)
}

// Fingerprint builds the "<severity>::<title>" key.
func Fingerprint(sev Severity, title string) string {
	return string(sev) + "::" + title
}

// Clone returns a copy of a whose Metrics map can be modified without
// affecting a.
func (a Alert) Clone() Alert {
	out := a
	if a.Metrics != nil {
		out.Metrics = make(map[string]any, len(a.Metrics))
		for k, v := range a.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}

// WithMetric returns a copy of a with key set to v.
func (a Alert) WithMetric(key string, v any) Alert {
	out := a.Clone()
	if out.Metrics == nil {
		out.Metrics = make(map[string]any, 1)
	}
	out.Metrics[key] = v
	return out
}

// Validate checks the fields an ingested alert must carry.
func (a Alert) Validate() error {
	if a.Severity.Rank() == 0 {
		return fmt.Errorf("alert: unknown severity %q", a.Severity)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("alert: title is required")
	}
	return nil
}
