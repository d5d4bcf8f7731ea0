package api

import (
	"time"

	"github.com/obsidianstack/sentinel/internal/monitor"
)

// AlertRequest is the body of POST /api/v1/alerts.
type AlertRequest struct {
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// AlertResponse is returned by POST /api/v1/alerts.
type AlertResponse struct {
	Outcome monitor.Outcome `json:"outcome"`
}

// ProbeResponse is one probe in GET /api/v1/health.
type ProbeResponse struct {
	Healthy             bool    `json:"healthy"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastError           string  `json:"last_error,omitempty"`
	LastCheck           string  `json:"last_check,omitempty"` // RFC3339
	ResponseTimeMs      float64 `json:"response_time_ms"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status string                   `json:"status"` // "healthy" | "unhealthy"
	Probes map[string]ProbeResponse `json:"probes"`
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Alerts          monitor.Stats `json:"alerts"`
	DedupSuppressed int64         `json:"dedup_suppressed"`
	Requests        int64         `json:"requests"`
	RequestErrors   int64         `json:"request_errors"`
	AvgResponseMs   float64       `json:"avg_response_ms"`
	Plugins         []string      `json:"plugins"`
}

// MessageRequest is the body of POST /api/v1/notify/message.
type MessageRequest struct {
	Text string `json:"text"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
