package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// ErrUnknownProbe is returned by CheckNow for names that were never registered.
var ErrUnknownProbe = errors.New("probe: unknown probe")

// Result is the current health of one probe.
type Result struct {
	Healthy             bool
	ConsecutiveFailures int
	LastError           string
	LastCheckAt         time.Time
	ResponseTime        time.Duration
}

// probe pairs a config with its checker.
type probe struct {
	cfg   Config
	check checker
}

// Manager owns the polling loops and per-probe results.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	probes []*probe
	byName map[string]*probe
	emit   alert.Emitter

	mu      sync.Mutex
	results map[string]*Result
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time // injectable for deterministic tests
}

// NewManager validates cfgs and returns a Manager that reports alerts to emit.
// Results start optimistic: healthy with zero failures.
func NewManager(cfgs []Config, emit alert.Emitter) (*Manager, error) {
	if emit == nil {
		emit = func(context.Context, alert.Alert) {}
	}
	m := &Manager{
		byName:  make(map[string]*probe, len(cfgs)),
		emit:    emit,
		results: make(map[string]*Result, len(cfgs)),
		now:     time.Now,
	}
	for _, raw := range cfgs {
		cfg := raw.withDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("probe %q: duplicate name", cfg.Name)
		}
		p := &probe{cfg: cfg, check: newChecker(cfg)}
		m.probes = append(m.probes, p)
		m.byName[cfg.Name] = p
		m.results[cfg.Name] = &Result{Healthy: true}
	}
	return m, nil
}

// Start launches one polling goroutine per probe. Each runs a check right
// away, then one per Interval, until Stop. Calling Start twice is an error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("probe: manager already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	for _, p := range m.probes {
		m.wg.Add(1)
		go m.loop(loopCtx, p)
	}
	log.Info().Int("probes", len(m.probes)).Msg("probe: manager started")
	return nil
}

// Stop cancels every polling loop and waits for in-flight checks, which end
// through their own timeout. Stop is a no-op on a manager that is not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	log.Info().Msg("probe: manager stopped")
}

// CheckNow runs one tick for the named probe synchronously and returns the
// updated result.
func (m *Manager) CheckNow(ctx context.Context, name string) (Result, error) {
	p, ok := m.byName[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProbe, name)
	}
	return m.tick(ctx, p), nil
}

// Status returns a copy of every probe's result keyed by probe name.
func (m *Manager) Status() map[string]Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Result, len(m.results))
	for name, r := range m.results {
		out[name] = *r
	}
	return out
}

// Names returns probe names in configuration order.
func (m *Manager) Names() []string {
	out := make([]string, len(m.probes))
	for i, p := range m.probes {
		out[i] = p.cfg.Name
	}
	return out
}

func (m *Manager) loop(ctx context.Context, p *probe) {
	defer m.wg.Done()

	// Checks and their alerts outlive Stop; only the schedule is cancelled.
	checkCtx := context.WithoutCancel(ctx)

	m.tick(checkCtx, p)

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tick(checkCtx, p)
		}
	}
}

// tick runs one check, advances the state machine and emits the resulting
// alert, if any.
func (m *Manager) tick(ctx context.Context, p *probe) Result {
	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	checkedAt := m.now()
	out := p.check(checkCtx)
	cancel()

	m.mu.Lock()
	r := m.results[p.cfg.Name]
	previousFailures := r.ConsecutiveFailures
	r.LastCheckAt = checkedAt
	r.ResponseTime = out.responseTime

	var a *alert.Alert
	if out.healthy {
		r.Healthy = true
		r.LastError = ""
		r.ConsecutiveFailures = 0
		if previousFailures > 0 {
			a = recoveredAlert(p.cfg, previousFailures, out.responseTime)
		}
	} else {
		r.Healthy = false
		r.ConsecutiveFailures++
		r.LastError = out.reason
		a = downAlert(p.cfg, r.ConsecutiveFailures, out)
	}
	snapshot := *r
	m.mu.Unlock()

	if out.healthy {
		log.Debug().Str("probe", p.cfg.Name).Dur("response_time", out.responseTime).Msg("probe: check passed")
	} else {
		log.Warn().Str("probe", p.cfg.Name).Str("reason", out.reason).
			Int("consecutive_failures", snapshot.ConsecutiveFailures).Msg("probe: check failed")
	}

	if a != nil {
		a.Timestamp = checkedAt
		m.emit(ctx, *a)
	}
	return snapshot
}

func downAlert(cfg Config, failures int, out outcome) *alert.Alert {
	sev := alert.SeverityWarning
	if failures >= cfg.FailuresForCritical {
		sev = alert.SeverityCritical
	}
	return &alert.Alert{
		Severity: sev,
		Title:    cfg.Name + " is down",
		Message:  fmt.Sprintf("Health check failed: %s (consecutive failures: %d)", out.reason, failures),
		Metrics: map[string]any{
			"probe":               cfg.Name,
			"type":                string(cfg.Type),
			"consecutiveFailures": failures,
			"responseTimeMs":      durationMs(out.responseTime),
		},
	}
}

func recoveredAlert(cfg Config, previousFailures int, rt time.Duration) *alert.Alert {
	return &alert.Alert{
		Severity: alert.SeverityInfo,
		Title:    cfg.Name + " recovered",
		Message:  fmt.Sprintf("%s is healthy again after %d consecutive failures", cfg.Name, previousFailures),
		Metrics: map[string]any{
			"probe":            cfg.Name,
			"type":             string(cfg.Type),
			"previousFailures": previousFailures,
			"responseTimeMs":   durationMs(rt),
		},
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
