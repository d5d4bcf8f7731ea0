package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/sentinel/internal/aggregate"
	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/enrich"
	"github.com/obsidianstack/sentinel/internal/history"
	"github.com/obsidianstack/sentinel/internal/notify"
	"github.com/obsidianstack/sentinel/internal/plugin"
	"github.com/obsidianstack/sentinel/internal/probe"
)

// --- fakes ------------------------------------------------------------------

type fakeNotifier struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []alert.Alert
	events []string
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) record(kind string) error {
	f.mu.Lock()
	f.events = append(f.events, kind)
	f.mu.Unlock()
	return f.err
}

func (f *fakeNotifier) Send(context.Context, string) error { return f.record("message") }

func (f *fakeNotifier) SendAlert(_ context.Context, a alert.Alert) error {
	f.mu.Lock()
	f.alerts = append(f.alerts, a)
	f.mu.Unlock()
	return f.record("alert")
}

func (f *fakeNotifier) SendPipelineStatus(context.Context, alert.PipelineStatus) error {
	return f.record("pipeline")
}

func (f *fakeNotifier) SendDeployment(context.Context, alert.Deployment) error {
	return f.record("deployment")
}

func (f *fakeNotifier) SendDailyReport(context.Context, alert.DailyReport) error {
	return f.record("report")
}

func (f *fakeNotifier) got() []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Alert(nil), f.alerts...)
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeEnricher struct {
	enabled bool
	an      *enrich.Analysis
	err     error
}

func (f fakeEnricher) Enabled() bool { return f.enabled }
func (f fakeEnricher) Analyze(context.Context, enrich.Record) (*enrich.Analysis, error) {
	return f.an, f.err
}

// syncBuffer guards log output written from several goroutines.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// captureLogs redirects the global logger for the duration of the test.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = prev })
	return buf
}

func newMonitor(t *testing.T, opts Options) *Monitor {
	t.Helper()
	m, err := New(context.Background(), opts)
	require.NoError(t, err)
	return m
}

func crit(title string) alert.Alert {
	return alert.Alert{Severity: alert.SeverityCritical, Title: title, Message: "boom"}
}

// --- tests ------------------------------------------------------------------

func TestAlert_DeliversAndStampsTimestamp(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}})
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	assert.Equal(t, OutcomeSent, m.Alert(context.Background(), crit("db down")))

	got := n.got()
	require.Len(t, got, 1)
	assert.Equal(t, fixed, got[0].Timestamp)
	assert.Equal(t, int64(1), m.Stats().Sent)
}

func TestAlert_KeepsCallerTimestamp(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}})
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	a := crit("x")
	a.Timestamp = ts
	m.Alert(context.Background(), a)
	assert.Equal(t, ts, n.got()[0].Timestamp)
}

func TestAlert_DeduplicatesWithinCooldown(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}, Cooldown: time.Hour})
	ctx := context.Background()

	assert.Equal(t, OutcomeSent, m.Alert(ctx, crit("db down")))
	assert.Equal(t, OutcomeDeduplicated, m.Alert(ctx, crit("db down")))
	assert.Equal(t, OutcomeSent, m.Alert(ctx, alert.Alert{Severity: alert.SeverityWarning, Title: "db down"}))

	assert.Len(t, n.got(), 2)
	assert.Equal(t, int64(1), m.Stats().Deduplicated)
	assert.Equal(t, int64(1), m.DedupSuppressed())
}

func TestAlert_DedupDisabled(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}, DisableDedup: true})
	ctx := context.Background()

	m.Alert(ctx, crit("x"))
	m.Alert(ctx, crit("x"))
	assert.Len(t, n.got(), 2)
	assert.Equal(t, int64(0), m.DedupSuppressed())
}

func TestAlert_NilPluginBlocksNotifiers(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	drop := plugin.Plugin{
		Name:    "drop-all",
		OnAlert: func(context.Context, alert.Alert) (*alert.Alert, error) { return nil, nil },
	}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}, Plugins: []plugin.Plugin{drop}})

	assert.Equal(t, OutcomeSuppressed, m.Alert(context.Background(), crit("x")))
	assert.Empty(t, n.got())
	assert.Equal(t, int64(1), m.Stats().Suppressed)
}

func TestAlert_PluginTitleOrdering(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	suffix := func(name string) plugin.Plugin {
		return plugin.Plugin{Name: name, OnAlert: func(_ context.Context, a alert.Alert) (*alert.Alert, error) {
			a.Title += "-" + name
			return &a, nil
		}}
	}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}, Plugins: []plugin.Plugin{suffix("p1")}})
	require.NoError(t, m.Use(context.Background(), suffix("p2")))
	assert.Equal(t, []string{"p1", "p2"}, m.Plugins())

	m.Alert(context.Background(), alert.Alert{Severity: alert.SeverityInfo, Title: "Test"})
	assert.Equal(t, "Test-p1-p2", n.got()[0].Title)
}

func TestAlert_OneNotifierFailsOthersStillDeliver(t *testing.T) {
	logs := captureLogs(t)
	good := &fakeNotifier{name: "good"}
	bad := &fakeNotifier{name: "bad", err: errors.New("webhook returned HTTP 500")}
	hist := history.New(time.Hour)
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{good, bad}, History: hist})

	assert.Equal(t, OutcomeSent, m.Alert(context.Background(), crit("x")))
	assert.Len(t, good.got(), 1)
	assert.Len(t, bad.got(), 1)
	assert.Equal(t, int64(1), m.Stats().NotifyFailures)

	out := logs.String()
	assert.Contains(t, out, "monitor: notifier failed")
	assert.Contains(t, out, `"notifier":"bad"`)
	assert.Contains(t, out, "webhook returned HTTP 500")

	entries := hist.List(history.Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"good"}, entries[0].Delivered)
	assert.Equal(t, []string{"bad"}, entries[0].Failed)
}

func TestAlert_NoNotifiers(t *testing.T) {
	logs := captureLogs(t)
	m := newMonitor(t, Options{})

	assert.Equal(t, OutcomeNoNotifiers, m.Alert(context.Background(), crit("x")))
	assert.Contains(t, logs.String(), "no notifiers configured")
	assert.Equal(t, int64(1), m.Stats().Undelivered)
}

func TestAlert_EnrichmentAppended(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	an := &enrich.Analysis{Summary: "pool exhausted", Suggestions: []string{"scale up"}, Confidence: 0.9}
	m := newMonitor(t, Options{
		Notifiers: []notify.Notifier{n},
		Enricher:  fakeEnricher{enabled: true, an: an},
	})

	m.Alert(context.Background(), crit("db down"))
	got := n.got()[0]
	assert.True(t, strings.HasPrefix(got.Message, "boom"))
	assert.Contains(t, got.Message, "Summary: pool exhausted")
	assert.Equal(t, *an, got.Metrics["aiAnalysis"])
	assert.Equal(t, int64(1), m.Stats().Enriched)
}

func TestAlert_EnrichmentFailureIsNonFatal(t *testing.T) {
	logs := captureLogs(t)
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{
		Notifiers: []notify.Notifier{n},
		Enricher:  fakeEnricher{enabled: true, err: errors.New("429")},
	})

	assert.Equal(t, OutcomeSent, m.Alert(context.Background(), crit("db down")))
	got := n.got()[0]
	assert.Equal(t, "boom", got.Message)
	assert.NotContains(t, got.Metrics, "aiAnalysis")
	assert.Contains(t, logs.String(), "enrichment failed")
	assert.Equal(t, int64(1), m.Stats().EnrichFailures)
}

func TestAlert_DisabledEnricherSkipped(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{
		Notifiers: []notify.Notifier{n},
		Enricher:  fakeEnricher{enabled: false, err: errors.New("must not be called")},
	})
	m.Alert(context.Background(), crit("x"))
	assert.Equal(t, "boom", n.got()[0].Message)
	assert.Equal(t, int64(0), m.Stats().EnrichFailures)
}

func TestAlert_DoesNotMutateCallerMetrics(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{
		Notifiers: []notify.Notifier{n},
		Enricher:  fakeEnricher{enabled: true, an: &enrich.Analysis{Summary: "s"}},
	})
	a := crit("x")
	a.Metrics = map[string]any{"k": 1}
	m.Alert(context.Background(), a)
	assert.NotContains(t, a.Metrics, "aiAnalysis")
}

func TestEvents_SkipDedupAndPlugins(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	veto := plugin.Plugin{
		Name:           "veto",
		OnBeforeNotify: func(context.Context, alert.Alert) (bool, error) { return false, nil },
	}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}, Plugins: []plugin.Plugin{veto}})
	ctx := context.Background()

	m.PipelineStatus(ctx, alert.PipelineStatus{Pipeline: "build", Status: "failed"})
	m.PipelineStatus(ctx, alert.PipelineStatus{Pipeline: "build", Status: "failed"})
	m.Deployment(ctx, alert.Deployment{Service: "api"})
	m.DailyReport(ctx, alert.DailyReport{Date: "2026-05-01"})
	m.Notify(ctx, "hello")

	assert.Equal(t, []string{"pipeline", "pipeline", "deployment", "report", "message"}, n.kinds())
}

func TestAddNotifier(t *testing.T) {
	m := newMonitor(t, Options{})
	n := &fakeNotifier{name: "late"}
	m.AddNotifier(n)
	assert.Equal(t, OutcomeSent, m.Alert(context.Background(), crit("x")))
	assert.Len(t, n.got(), 1)
}

func TestProbeAlertsFlowThroughPipeline(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{
		Notifiers: []notify.Notifier{n},
		Cooldown:  time.Hour,
		Probes: []probe.Config{{
			Name:                "queue",
			Type:                probe.TypeCustom,
			FailuresForCritical: 2,
			Check: func(context.Context) (probe.CheckResult, error) {
				return probe.CheckResult{}, errors.New("depth 10000")
			},
		}},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.CheckNow(ctx, "queue")
		require.NoError(t, err)
	}

	// WARNING, CRITICAL, then a deduplicated repeat CRITICAL.
	got := n.got()
	require.Len(t, got, 2)
	assert.Equal(t, alert.SeverityWarning, got[0].Severity)
	assert.Equal(t, alert.SeverityCritical, got[1].Severity)
	assert.False(t, m.Healthy())
	assert.Equal(t, 3, m.Status()["queue"].ConsecutiveFailures)
}

func TestAggregatorAlertsFlowThroughPipeline(t *testing.T) {
	n := &fakeNotifier{name: "slack"}
	m := newMonitor(t, Options{Notifiers: []notify.Notifier{n}})

	for i := 0; i < 10; i++ {
		m.RecordRequest(time.Second, false)
	}
	assert.Equal(t, 10, m.Stats().WindowSize)
	out := m.Aggregate(context.Background())
	require.Len(t, out, 1)
	require.Len(t, n.got(), 1)
	assert.Equal(t, "High response time", n.got()[0].Title)
	assert.Equal(t, 0, m.Stats().WindowSize)
}

func TestReconfigure(t *testing.T) {
	m := newMonitor(t, Options{Cooldown: time.Hour})
	require.NoError(t, m.Reconfigure(time.Minute, aggregate.Thresholds{
		LatencyWarning: time.Second, LatencyCritical: 2 * time.Second,
		ErrorRateWarning: 5, ErrorRateCritical: 10,
	}))
	assert.Equal(t, time.Minute, m.dedup.Cooldown())
	assert.Equal(t, time.Second, m.agg.Thresholds().LatencyWarning)

	require.Error(t, m.Reconfigure(0, aggregate.Thresholds{LatencyWarning: 2, LatencyCritical: 1}))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Options{Cooldown: -time.Second})
	require.Error(t, err)

	_, err = New(context.Background(), Options{Probes: []probe.Config{{Name: "x", Type: "icmp"}}})
	require.Error(t, err)

	_, err = New(context.Background(), Options{Plugins: []plugin.Plugin{{
		Name:   "broken",
		OnInit: func(context.Context) error { return errors.New("no creds") },
	}}})
	require.Error(t, err)
}

func TestStartStop_RunsLifecycleHooks(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	rec := func(s string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			calls = append(calls, s)
			mu.Unlock()
			return nil
		}
	}
	m := newMonitor(t, Options{
		Plugins: []plugin.Plugin{{Name: "p", OnStart: rec("start"), OnStop: rec("stop")}},
		History: history.New(time.Hour),
	})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.Error(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start", "stop"}, calls)
}

func TestBuildReport(t *testing.T) {
	m := newMonitor(t, Options{
		Notifiers: []notify.Notifier{&fakeNotifier{name: "n"}},
		Probes: []probe.Config{
			{Name: "up", Type: probe.TypeCustom, Check: func(context.Context) (probe.CheckResult, error) {
				return probe.CheckResult{Healthy: true}, nil
			}},
			{Name: "down", Type: probe.TypeCustom, Check: func(context.Context) (probe.CheckResult, error) {
				return probe.CheckResult{Healthy: false}, nil
			}},
		},
	})
	ctx := context.Background()
	_, err := m.CheckNow(ctx, "down")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		m.RecordRequest(100*time.Millisecond, i == 0)
	}
	m.Aggregate(ctx)

	r := m.BuildReport(time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, "2026-05-01", r.Date)
	assert.Equal(t, int64(4), r.TotalRequests)
	assert.InDelta(t, 25.0, r.ErrorRatePct, 1e-9)
	assert.InDelta(t, 100.0, r.AvgResponseMs, 1e-9)
	assert.InDelta(t, 100.0, r.P95ResponseMs, 1e-9)
	assert.InDelta(t, 50.0, r.UptimePct, 1e-9)
	// The probe WARNING and the error-rate CRITICAL were both delivered.
	assert.Equal(t, int64(2), r.AlertsSent)
}
