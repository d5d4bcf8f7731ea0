// Package monitor wires deduplication, enrichment, plugins, health probes,
// request aggregation and notifier fan-out into one alert pipeline.
//
// Alert is the single ingestion point. Each stage may stop the alert:
//
//	stamp → dedup → enrich → plugins → fan-out
//
// Probes and the aggregator feed their alerts back through Alert, so they
// are deduplicated and filtered like any other. Events such as pipeline
// status or deployments skip straight to fan-out.
package monitor
