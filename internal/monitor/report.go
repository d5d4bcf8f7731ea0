package monitor

import (
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// BuildReport summarises the pipeline since startup for the given day.
// Uptime is the share of probes healthy right now; with no probes it is 100.
func (m *Monitor) BuildReport(day time.Time) alert.DailyReport {
	tot := m.agg.Totals()
	r := alert.DailyReport{
		Date:             day.Format("2006-01-02"),
		TotalRequests:    tot.Requests,
		AvgResponseMs:    float64(tot.AvgLatency()) / float64(time.Millisecond),
		UptimePct:        100,
		AlertsSent:       m.sent.Load(),
		AlertsSuppressed: m.deduplicated.Load() + m.suppressed.Load(),
	}
	if tot.Requests > 0 {
		r.ErrorRatePct = float64(tot.Errors) / float64(tot.Requests) * 100
	}
	if last, ok := m.agg.Last(); ok {
		r.P95ResponseMs = float64(last.P95) / float64(time.Millisecond)
	}

	status := m.probes.Status()
	if len(status) > 0 {
		healthy := 0
		for _, s := range status {
			if s.Healthy {
				healthy++
			}
		}
		r.UptimePct = float64(healthy) / float64(len(status)) * 100
	}
	return r
}
