// Package api serves the sentinel REST API.
//
// Routes:
//
//	POST /api/v1/alerts                  ingest an alert
//	GET  /api/v1/alerts                  recently dispatched alerts
//	GET  /api/v1/health                  probe status (503 when any probe is down)
//	GET  /api/v1/stats                   pipeline counters
//	POST /api/v1/notify/message          free-form message fan-out
//	POST /api/v1/notify/pipeline         CI/CD pipeline status
//	POST /api/v1/notify/deployment       deployment notification
//	POST /api/v1/notify/report           daily report (built from live data when the body is empty)
//	GET  /metrics                        Prometheus exposition
//	GET  /ws                             live alert stream, when configured
package api
