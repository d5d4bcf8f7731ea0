// Package alert defines the values that flow through the sentinel pipeline:
// Alert and its Severity, the Fingerprint used for deduplication, and the
// non-alert notification payloads (PipelineStatus, Deployment, DailyReport)
// that notifiers also deliver.
package alert
