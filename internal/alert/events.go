package alert

import "time"

// PipelineStatus reports the outcome of a CI/CD pipeline run.
type PipelineStatus struct {
	Pipeline string        `json:"pipeline"`
	Status   string        `json:"status"` // "success" | "failed" | "running" | "cancelled"
	Branch   string        `json:"branch,omitempty"`
	Commit   string        `json:"commit,omitempty"`
	Author   string        `json:"author,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	URL      string        `json:"url,omitempty"`
}

// Deployment announces a release rolled out to an environment.
type Deployment struct {
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"` // "started" | "succeeded" | "failed" | "rolled_back"
	DeployedBy  string    `json:"deployed_by,omitempty"`
	Changes     []string  `json:"changes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DailyReport summarises one day of service health.
type DailyReport struct {
	Date             string  `json:"date"` // YYYY-MM-DD
	TotalRequests    int64   `json:"total_requests"`
	ErrorRatePct     float64 `json:"error_rate_pct"`
	AvgResponseMs    float64 `json:"avg_response_ms"`
	P95ResponseMs    float64 `json:"p95_response_ms"`
	UptimePct        float64 `json:"uptime_pct"`
	AlertsSent       int64   `json:"alerts_sent"`
	AlertsSuppressed int64   `json:"alerts_suppressed"`
}
