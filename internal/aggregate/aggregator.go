package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// DefaultInterval is the aggregation cadence used by Run.
const DefaultInterval = 60 * time.Second

// Thresholds are the warning and critical limits for one cycle. Error rates
// are percentages (1.0 means 1 %).
type Thresholds struct {
	LatencyWarning    time.Duration `yaml:"latency_warning"`
	LatencyCritical   time.Duration `yaml:"latency_critical"`
	ErrorRateWarning  float64       `yaml:"error_rate_warning"`
	ErrorRateCritical float64       `yaml:"error_rate_critical"`
}

// DefaultThresholds returns 200ms/500ms latency and 0.1%/1.0% error rate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyWarning:    200 * time.Millisecond,
		LatencyCritical:   500 * time.Millisecond,
		ErrorRateWarning:  0.1,
		ErrorRateCritical: 1.0,
	}
}

// Validate rejects negative limits and a warning above its critical.
func (t Thresholds) Validate() error {
	if t.LatencyWarning <= 0 || t.LatencyCritical <= 0 {
		return fmt.Errorf("aggregate: latency thresholds must be positive")
	}
	if t.LatencyWarning > t.LatencyCritical {
		return fmt.Errorf("aggregate: latency warning %s exceeds critical %s", t.LatencyWarning, t.LatencyCritical)
	}
	if t.ErrorRateWarning < 0 || t.ErrorRateCritical < 0 {
		return fmt.Errorf("aggregate: error rate thresholds must not be negative")
	}
	if t.ErrorRateWarning > t.ErrorRateCritical {
		return fmt.Errorf("aggregate: error rate warning %.2f%% exceeds critical %.2f%%", t.ErrorRateWarning, t.ErrorRateCritical)
	}
	return nil
}

// Summary describes one evaluated window.
type Summary struct {
	Count        int
	Errors       int
	P95          time.Duration
	ErrorRatePct float64
	Sum          time.Duration
}

// Totals are cumulative counters across all cycles since construction. They
// feed the daily report and the metrics endpoint.
type Totals struct {
	Requests int64
	Errors   int64
	Cycles   int64
	Alerts   int64
	Latency  time.Duration // sum of every sample, for averages
}

// AvgLatency is the mean response time across all evaluated samples.
func (t Totals) AvgLatency() time.Duration {
	if t.Requests == 0 {
		return 0
	}
	return t.Latency / time.Duration(t.Requests)
}

// Aggregator owns the sample window.
//
// All exported methods are safe for concurrent use.
type Aggregator struct {
	emit alert.Emitter

	mu         sync.Mutex
	thresholds Thresholds
	samples    []time.Duration
	errors     int
	totals     Totals
	last       *Summary

	now func() time.Time
}

// New returns an Aggregator that reports breaches to emit. A zero Thresholds
// selects DefaultThresholds.
func New(t Thresholds, emit alert.Emitter) (*Aggregator, error) {
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = func(context.Context, alert.Alert) {}
	}
	return &Aggregator{emit: emit, thresholds: t, now: time.Now}, nil
}

// RecordRequest adds one sample to the current window.
func (a *Aggregator) RecordRequest(d time.Duration, isError bool) {
	a.mu.Lock()
	a.samples = append(a.samples, d)
	if isError {
		a.errors++
	}
	a.mu.Unlock()
}

// SetThresholds swaps the limits used from the next cycle on.
func (a *Aggregator) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.thresholds = t
	a.mu.Unlock()
	return nil
}

// Thresholds returns the limits currently in force.
func (a *Aggregator) Thresholds() Thresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholds
}

// WindowSize is the number of samples waiting for the next cycle.
func (a *Aggregator) WindowSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Totals returns the cumulative counters.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Last returns the most recent evaluated window, or false before the first.
func (a *Aggregator) Last() (Summary, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Summary{}, false
	}
	return *a.last, true
}

// AggregateAndAlert evaluates and resets the window, emitting up to two
// alerts (latency, error rate). The alerts are also returned. An empty window
// is a no-op.
func (a *Aggregator) AggregateAndAlert(ctx context.Context) []alert.Alert {
	a.mu.Lock()
	if len(a.samples) == 0 {
		a.mu.Unlock()
		return nil
	}
	samples := a.samples
	errs := a.errors
	th := a.thresholds
	a.samples = nil
	a.errors = 0
	a.mu.Unlock()

	s := summarize(samples, errs)
	now := a.now()

	var out []alert.Alert
	if al := latencyAlert(s, th); al != nil {
		out = append(out, *al)
	}
	if al := errorRateAlert(s, th); al != nil {
		out = append(out, *al)
	}

	a.mu.Lock()
	a.totals.Requests += int64(s.Count)
	a.totals.Errors += int64(s.Errors)
	a.totals.Latency += s.Sum
	a.totals.Cycles++
	a.totals.Alerts += int64(len(out))
	a.last = &s
	a.mu.Unlock()

	log.Debug().Int("samples", s.Count).Dur("p95", s.P95).
		Float64("error_rate_pct", s.ErrorRatePct).Int("alerts", len(out)).
		Msg("aggregate: window evaluated")

	for i := range out {
		out[i].Timestamp = now
		a.emit(ctx, out[i])
	}
	return out
}

// Run evaluates the window every interval until ctx is cancelled. A
// non-positive interval selects DefaultInterval.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.AggregateAndAlert(ctx)
		}
	}
}

// summarize sorts samples in place.
func summarize(samples []time.Duration, errs int) Summary {
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	n := len(samples)
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	idx := int(math.Floor(float64(n) * 0.95))
	if idx >= n {
		idx = n - 1
	}
	return Summary{
		Count:        n,
		Errors:       errs,
		P95:          samples[idx],
		ErrorRatePct: float64(errs) / float64(n) * 100,
		Sum:          sum,
	}
}

func latencyAlert(s Summary, th Thresholds) *alert.Alert {
	var sev alert.Severity
	var limit time.Duration
	switch {
	case s.P95 > th.LatencyCritical:
		sev, limit = alert.SeverityCritical, th.LatencyCritical
	case s.P95 > th.LatencyWarning:
		sev, limit = alert.SeverityWarning, th.LatencyWarning
	default:
		return nil
	}
	return &alert.Alert{
		Severity: sev,
		Title:    "High response time",
		Message: fmt.Sprintf("P95 response time is %dms (threshold %dms) over %d requests",
			s.P95.Milliseconds(), limit.Milliseconds(), s.Count),
		Metrics: map[string]any{
			"p95Ms":       s.P95.Milliseconds(),
			"thresholdMs": limit.Milliseconds(),
			"requests":    s.Count,
		},
	}
}

func errorRateAlert(s Summary, th Thresholds) *alert.Alert {
	var sev alert.Severity
	var limit float64
	switch {
	case s.ErrorRatePct > th.ErrorRateCritical:
		sev, limit = alert.SeverityCritical, th.ErrorRateCritical
	case s.ErrorRatePct > th.ErrorRateWarning:
		sev, limit = alert.SeverityWarning, th.ErrorRateWarning
	default:
		return nil
	}
	return &alert.Alert{
		Severity: sev,
		Title:    "High error rate",
		Message: fmt.Sprintf("Error rate is %.2f%% (threshold %.2f%%): %d of %d requests failed",
			s.ErrorRatePct, limit, s.Errors, s.Count),
		Metrics: map[string]any{
			"errorRatePct": s.ErrorRatePct,
			"thresholdPct": limit,
			"errors":       s.Errors,
			"requests":     s.Count,
		},
	}
}
