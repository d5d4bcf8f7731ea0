// Package probe actively polls external dependencies and turns their health
// into alerts.
//
// Each configured probe (http, tcp, metrics or custom) gets its own goroutine
// that runs one check immediately on Start and then one per Interval. Every
// check has its own Timeout; a check that exceeds it counts as a failure. A
// metrics probe scrapes a Prometheus endpoint and fails when a rule's metric
// sum leaves its bounds.
//
// Per-probe state machine:
//
//	Healthy      --ok-->   Healthy        no alert
//	Healthy      --fail--> Unhealthy(1)   WARNING "<name> is down"
//	Unhealthy(n) --fail--> Unhealthy(n+1) WARNING, or CRITICAL once n+1 >= FailuresForCritical
//	Unhealthy(n) --ok-->   Healthy        INFO "<name> recovered"
//
// A failing probe alerts on every tick; repeated alerts are left to the
// monitor's deduplicator.
package probe
