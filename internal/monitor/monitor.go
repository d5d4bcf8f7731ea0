package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/aggregate"
	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/dedup"
	"github.com/obsidianstack/sentinel/internal/enrich"
	"github.com/obsidianstack/sentinel/internal/history"
	"github.com/obsidianstack/sentinel/internal/notify"
	"github.com/obsidianstack/sentinel/internal/plugin"
	"github.com/obsidianstack/sentinel/internal/probe"
)

// Outcome reports how far an alert travelled through the pipeline.
type Outcome string

// Alert outcomes.
const (
	OutcomeSent         Outcome = "sent"
	OutcomeDeduplicated Outcome = "deduplicated"
	OutcomeSuppressed   Outcome = "suppressed"
	OutcomeNoNotifiers  Outcome = "no_notifiers"
)

// Options configures a Monitor. Every field is optional.
type Options struct {
	// Cooldown is the dedup window (default dedup.DefaultCooldown).
	Cooldown time.Duration

	// DisableDedup skips the dedup stage entirely.
	DisableDedup bool

	Notifiers []notify.Notifier
	Plugins   []plugin.Plugin

	// Enricher, when enabled, annotates alerts before plugins run.
	Enricher enrich.Provider

	Probes []probe.Config

	Thresholds        aggregate.Thresholds
	AggregateInterval time.Duration

	// History receives every dispatched alert. Nil disables history.
	History *history.Store
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Received       int64 `json:"received"`
	Sent           int64 `json:"sent"`
	Deduplicated   int64 `json:"deduplicated"`
	Suppressed     int64 `json:"suppressed"`
	Undelivered    int64 `json:"undelivered"`
	NotifyFailures int64 `json:"notify_failures"`
	Enriched       int64 `json:"enriched"`
	EnrichFailures int64 `json:"enrich_failures"`
	WindowSize     int   `json:"window_size"`
}

// Monitor is the alert orchestrator.
//
// All exported methods are safe for concurrent use.
type Monitor struct {
	dedup    *dedup.Deduplicator // nil when disabled
	chain    *plugin.Chain
	enricher enrich.Provider
	probes   *probe.Manager
	agg      *aggregate.Aggregator
	history  *history.Store

	aggInterval time.Duration

	nmu       sync.RWMutex
	notifiers []notify.Notifier

	received, sent, deduplicated, suppressed atomic.Int64
	undelivered, notifyFailures              atomic.Int64
	enriched, enrichFailures                 atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	now func() time.Time
}

// New builds a Monitor. Plugins are initialised in order with ctx; the first
// OnInit failure aborts construction.
func New(ctx context.Context, opts Options) (*Monitor, error) {
	m := &Monitor{
		chain:       plugin.NewChain(),
		enricher:    opts.Enricher,
		history:     opts.History,
		aggInterval: opts.AggregateInterval,
		notifiers:   append([]notify.Notifier(nil), opts.Notifiers...),
		now:         time.Now,
	}

	if !opts.DisableDedup {
		d, err := dedup.New(opts.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
		m.dedup = d
	}

	emit := func(ctx context.Context, a alert.Alert) { m.Alert(ctx, a) }

	agg, err := aggregate.New(opts.Thresholds, emit)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	m.agg = agg

	probes, err := probe.NewManager(opts.Probes, emit)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	m.probes = probes

	for _, p := range opts.Plugins {
		if err := m.chain.Register(ctx, p); err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
	}
	return m, nil
}

// Use registers a plugin at runtime. It runs after every plugin registered
// before it.
func (m *Monitor) Use(ctx context.Context, p plugin.Plugin) error {
	return m.chain.Register(ctx, p)
}

// AddNotifier appends a notifier to the fan-out.
func (m *Monitor) AddNotifier(n notify.Notifier) {
	m.nmu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.nmu.Unlock()
}

// Alert runs a through the pipeline and reports where it stopped. Delivery
// failures are logged, never returned.
func (m *Monitor) Alert(ctx context.Context, a alert.Alert) Outcome {
	m.received.Add(1)
	a = a.Clone()
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now()
	}

	if m.dedup != nil && !m.dedup.ShouldSend(a) {
		m.deduplicated.Add(1)
		log.Debug().Str("severity", string(a.Severity)).Str("title", a.Title).Msg("monitor: alert deduplicated")
		return OutcomeDeduplicated
	}

	a = m.enrich(ctx, a)

	title := a.Title
	a, ok := m.chain.ProcessAlert(ctx, a)
	if !ok {
		m.suppressed.Add(1)
		log.Debug().Str("title", title).Msg("monitor: alert suppressed by plugin")
		return OutcomeSuppressed
	}

	results, ok := m.fanout(ctx, "alert", func(ctx context.Context, n notify.Notifier) error {
		return n.SendAlert(ctx, a)
	})
	if !ok {
		m.undelivered.Add(1)
		return OutcomeNoNotifiers
	}
	m.sent.Add(1)

	if m.history != nil {
		var delivered, failed []string
		for _, r := range results {
			if r.Err != nil {
				failed = append(failed, r.Notifier)
			} else {
				delivered = append(delivered, r.Notifier)
			}
		}
		m.history.Add(a, delivered, failed)
	}
	return OutcomeSent
}

func (m *Monitor) enrich(ctx context.Context, a alert.Alert) alert.Alert {
	if m.enricher == nil || !m.enricher.Enabled() {
		return a
	}
	an, err := m.enricher.Analyze(ctx, enrich.Record{
		Level:     string(a.Severity),
		Title:     a.Title,
		Message:   a.Message,
		Timestamp: a.Timestamp,
		Context:   a.Metrics,
	})
	if err != nil {
		m.enrichFailures.Add(1)
		log.Warn().Err(err).Str("title", a.Title).Msg("monitor: enrichment failed, sending unenriched alert")
		return a
	}
	m.enriched.Add(1)
	a.Message += enrich.Format(an)
	return a.WithMetric("aiAnalysis", *an)
}

// PipelineStatus fans s out to every notifier.
func (m *Monitor) PipelineStatus(ctx context.Context, s alert.PipelineStatus) {
	m.fanout(ctx, "pipeline", func(ctx context.Context, n notify.Notifier) error {
		return n.SendPipelineStatus(ctx, s)
	})
}

// Deployment fans d out to every notifier.
func (m *Monitor) Deployment(ctx context.Context, d alert.Deployment) {
	if d.Timestamp.IsZero() {
		d.Timestamp = m.now()
	}
	m.fanout(ctx, "deployment", func(ctx context.Context, n notify.Notifier) error {
		return n.SendDeployment(ctx, d)
	})
}

// DailyReport fans r out to every notifier.
func (m *Monitor) DailyReport(ctx context.Context, r alert.DailyReport) {
	m.fanout(ctx, "report", func(ctx context.Context, n notify.Notifier) error {
		return n.SendDailyReport(ctx, r)
	})
}

// Notify fans a free-form message out to every notifier.
func (m *Monitor) Notify(ctx context.Context, text string) {
	m.fanout(ctx, "message", func(ctx context.Context, n notify.Notifier) error {
		return n.Send(ctx, text)
	})
}

// fanout sends to every notifier and logs failures. It returns false when no
// notifier is configured.
func (m *Monitor) fanout(ctx context.Context, kind string, fn func(context.Context, notify.Notifier) error) ([]notify.Result, bool) {
	m.nmu.RLock()
	targets := append([]notify.Notifier(nil), m.notifiers...)
	m.nmu.RUnlock()

	if len(targets) == 0 {
		log.Warn().Str("kind", kind).Msg("monitor: no notifiers configured, dropping")
		return nil, false
	}

	results := notify.Fanout(ctx, targets, fn)
	for _, r := range notify.Failed(results) {
		m.notifyFailures.Add(1)
		log.Error().Err(r.Err).Str("notifier", r.Notifier).Str("kind", kind).Msg("monitor: notifier failed")
	}
	return results, true
}

// RecordRequest feeds one request sample to the aggregator.
func (m *Monitor) RecordRequest(d time.Duration, isError bool) {
	m.agg.RecordRequest(d, isError)
}

// Aggregate evaluates the current request window immediately.
func (m *Monitor) Aggregate(ctx context.Context) []alert.Alert {
	return m.agg.AggregateAndAlert(ctx)
}

// CheckNow runs the named probe once.
func (m *Monitor) CheckNow(ctx context.Context, name string) (probe.Result, error) {
	return m.probes.CheckNow(ctx, name)
}

// Status returns the current result of every probe.
func (m *Monitor) Status() map[string]probe.Result {
	return m.probes.Status()
}

// ProbeNames returns probe names in configuration order.
func (m *Monitor) ProbeNames() []string {
	return m.probes.Names()
}

// Plugins returns registered plugin names in order.
func (m *Monitor) Plugins() []string {
	return m.chain.Names()
}

// Healthy reports whether every probe is currently healthy.
func (m *Monitor) Healthy() bool {
	for _, r := range m.probes.Status() {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// Stats returns the pipeline counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Received:       m.received.Load(),
		Sent:           m.sent.Load(),
		Deduplicated:   m.deduplicated.Load(),
		Suppressed:     m.suppressed.Load(),
		Undelivered:    m.undelivered.Load(),
		NotifyFailures: m.notifyFailures.Load(),
		Enriched:       m.enriched.Load(),
		EnrichFailures: m.enrichFailures.Load(),
		WindowSize:     m.agg.WindowSize(),
	}
}

// DedupSuppressed is the dedup suppression counter, or 0 when dedup is off.
func (m *Monitor) DedupSuppressed() int64 {
	if m.dedup == nil {
		return 0
	}
	return m.dedup.SuppressedCount()
}

// Totals returns the aggregator's cumulative counters.
func (m *Monitor) Totals() aggregate.Totals {
	return m.agg.Totals()
}

// History returns the alert history store, or nil.
func (m *Monitor) History() *history.Store {
	return m.history
}

// Reconfigure applies a new dedup cooldown and aggregator thresholds. Either
// is left unchanged when zero.
func (m *Monitor) Reconfigure(cooldown time.Duration, t aggregate.Thresholds) error {
	if cooldown > 0 && m.dedup != nil {
		if err := m.dedup.SetCooldown(cooldown); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}
	if t != (aggregate.Thresholds{}) {
		if err := m.agg.SetThresholds(t); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}
	log.Info().Dur("cooldown", cooldown).Msg("monitor: reconfigured")
	return nil
}

// Start runs plugin OnStart hooks, then launches the probes, the aggregator
// and history eviction. It returns once everything is running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("monitor: already started")
	}

	if err := m.chain.RunHook(ctx, plugin.HookStart); err != nil {
		log.Warn().Err(err).Msg("monitor: plugin start hook failed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.probes.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("monitor: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.agg.Run(runCtx, m.aggInterval)
	}()
	if m.history != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.history.Run(runCtx)
		}()
	}

	m.cancel = cancel
	m.started = true
	log.Info().Int("probes", len(m.probes.Names())).Strs("plugins", m.chain.Names()).Msg("monitor: started")
	return nil
}

// Stop halts background work, then runs plugin OnStop hooks. It returns the
// first hook error.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}

	m.probes.Stop()
	m.cancel()
	m.wg.Wait()
	m.started = false

	err := m.chain.RunHook(ctx, plugin.HookStop)
	log.Info().Msg("monitor: stopped")
	return err
}
