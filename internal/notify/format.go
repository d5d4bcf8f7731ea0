package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// event is the rendered, target-independent form of anything we deliver.
type event struct {
	Kind     string // "message" | "alert" | "pipeline" | "deployment" | "report"
	Title    string
	Text     string
	Severity alert.Severity
	Data     any
}

func messageEvent(text string) event {
	return event{Kind: "message", Text: text, Severity: alert.SeverityInfo}
}

func alertEvent(a alert.Alert) event {
	var b strings.Builder
	b.WriteString(a.Message)
	if len(a.Metrics) > 0 {
		keys := make([]string, 0, len(a.Metrics))
		for k := range a.Metrics {
			// Enrichment is already part of the message text.
			if k == "aiAnalysis" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• %s: %v", k, a.Metrics[k])
		}
	}
	if !a.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\n%s", a.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	return event{
		Kind:     "alert",
		Title:    fmt.Sprintf("%s %s", severityLabel(a.Severity), a.Title),
		Text:     b.String(),
		Severity: a.Severity,
		Data:     a,
	}
}

func pipelineEvent(s alert.PipelineStatus) event {
	sev := alert.SeverityInfo
	if s.Status == "failed" {
		sev = alert.SeverityCritical
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %s: %s", s.Pipeline, s.Status)
	if s.Branch != "" {
		fmt.Fprintf(&b, "\nBranch: %s", s.Branch)
	}
	if s.Commit != "" {
		fmt.Fprintf(&b, "\nCommit: %s", s.Commit)
	}
	if s.Author != "" {
		fmt.Fprintf(&b, "\nAuthor: %s", s.Author)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&b, "\nDuration: %s", s.Duration)
	}
	if s.URL != "" {
		fmt.Fprintf(&b, "\n%s", s.URL)
	}
	return event{
		Kind:     "pipeline",
		Title:    fmt.Sprintf("%s Pipeline %s", statusIcon(s.Status), s.Pipeline),
		Text:     b.String(),
		Severity: sev,
		Data:     s,
	}
}

func deploymentEvent(d alert.Deployment) event {
	sev := alert.SeverityInfo
	switch d.Status {
	case "failed":
		sev = alert.SeverityCritical
	case "rolled_back":
		sev = alert.SeverityWarning
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s → %s: %s", d.Service, d.Version, d.Environment, d.Status)
	if d.DeployedBy != "" {
		fmt.Fprintf(&b, "\nDeployed by: %s", d.DeployedBy)
	}
	for _, c := range d.Changes {
		fmt.Fprintf(&b, "\n• %s", c)
	}
	return event{
		Kind:     "deployment",
		Title:    fmt.Sprintf("%s Deployment %s %s", statusIcon(d.Status), d.Service, d.Version),
		Text:     b.String(),
		Severity: sev,
		Data:     d,
	}
}

func reportEvent(r alert.DailyReport) event {
	text := fmt.Sprintf(
		"Requests: %d\nError rate: %.2f%%\nAvg response: %.0fms\nP95 response: %.0fms\nUptime: %.2f%%\nAlerts sent: %d (suppressed %d)",
		r.TotalRequests, r.ErrorRatePct, r.AvgResponseMs, r.P95ResponseMs, r.UptimePct, r.AlertsSent, r.AlertsSuppressed,
	)
	return event{
		Kind:     "report",
		Title:    "Daily report " + r.Date,
		Text:     text,
		Severity: alert.SeverityInfo,
		Data:     r,
	}
}

func severityLabel(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "[CRITICAL]"
	case alert.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "FF4F6A"
	case alert.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

func statusIcon(status string) string {
	switch status {
	case "success", "succeeded":
		return "✅"
	case "failed":
		return "❌"
	case "rolled_back", "cancelled":
		return "⚠️"
	default:
		return "🔄"
	}
}
