package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Hook names a lifecycle hook run by RunHook.
type Hook string

// Lifecycle hooks.
const (
	HookStart Hook = "start"
	HookStop  Hook = "stop"
)

// ErrDuplicateName is returned by Register when a plugin with the same name is
// already registered.
var ErrDuplicateName = errors.New("plugin: duplicate name")

// Plugin is a named set of optional hooks. Nil hooks are skipped.
type Plugin struct {
	Name string

	// OnInit runs once, synchronously, during Register.
	OnInit func(ctx context.Context) error

	// OnStart and OnStop run from RunHook when the monitor starts and stops.
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error

	// OnAlert returns the alert to pass on, or nil to suppress it.
	OnAlert func(ctx context.Context, a alert.Alert) (*alert.Alert, error)

	// OnBeforeNotify returns false to veto delivery.
	OnBeforeNotify func(ctx context.Context, a alert.Alert) (bool, error)
}

// Chain holds plugins in registration order.
//
// Chain is safe for concurrent use; each ProcessAlert call runs its hooks
// sequentially on the calling goroutine.
type Chain struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewChain returns an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register runs p.OnInit (if set) and appends p to the chain. An OnInit error
// is returned and p is not added.
func (c *Chain) Register(ctx context.Context, p Plugin) error {
	if p.Name == "" {
		return fmt.Errorf("plugin: name is required")
	}

	c.mu.RLock()
	dup := c.hasLocked(p.Name)
	c.mu.RUnlock()
	if dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, p.Name)
	}

	if p.OnInit != nil {
		if err := p.OnInit(ctx); err != nil {
			return fmt.Errorf("plugin %q: init: %w", p.Name, err)
		}
	}

	// OnInit ran unlocked, so a concurrent Register may have won the name.
	c.mu.Lock()
	if c.hasLocked(p.Name) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateName, p.Name)
	}
	c.plugins = append(c.plugins, p)
	c.mu.Unlock()

	log.Info().Str("plugin", p.Name).Msg("plugin: registered")
	return nil
}

func (c *Chain) hasLocked(name string) bool {
	for _, existing := range c.plugins {
		if existing.Name == name {
			return true
		}
	}
	return false
}

// Names returns registered plugin names in order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.plugins))
	for i, p := range c.plugins {
		out[i] = p.Name
	}
	return out
}

// Len returns the number of registered plugins.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plugins)
}

// RunHook calls the named lifecycle hook on every plugin, in order, one at a
// time. A failing hook is logged and the next plugin still runs; the first
// error is returned.
func (c *Chain) RunHook(ctx context.Context, hook Hook) error {
	var first error
	for _, p := range c.snapshot() {
		var fn func(context.Context) error
		switch hook {
		case HookStart:
			fn = p.OnStart
		case HookStop:
			fn = p.OnStop
		default:
			return fmt.Errorf("plugin: unknown hook %q", hook)
		}
		if fn == nil {
			continue
		}
		if err := guard(p.Name, string(hook), func() error { return fn(ctx) }); err != nil {
			log.Error().Err(err).Str("plugin", p.Name).Str("hook", string(hook)).
				Msg("plugin: lifecycle hook failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ProcessAlert runs the transform phase then the gate phase. It returns the
// final alert and true, or a zero Alert and false when a plugin suppressed it.
func (c *Chain) ProcessAlert(ctx context.Context, a alert.Alert) (alert.Alert, bool) {
	plugins := c.snapshot()
	current := a

	for _, p := range plugins {
		if p.OnAlert == nil {
			continue
		}
		var next *alert.Alert
		err := guard(p.Name, "on_alert", func() error {
			var err error
			next, err = p.OnAlert(ctx, current.Clone())
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("plugin", p.Name).Str("title", current.Title).
				Msg("plugin: on_alert failed, skipping plugin")
			continue
		}
		if next == nil {
			log.Debug().Str("plugin", p.Name).Str("title", current.Title).
				Msg("plugin: alert suppressed")
			return alert.Alert{}, false
		}
		current = *next
	}

	for _, p := range plugins {
		if p.OnBeforeNotify == nil {
			continue
		}
		var allow bool
		err := guard(p.Name, "on_before_notify", func() error {
			var err error
			allow, err = p.OnBeforeNotify(ctx, current.Clone())
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("plugin", p.Name).Str("title", current.Title).
				Msg("plugin: on_before_notify failed, skipping plugin")
			continue
		}
		if !allow {
			log.Debug().Str("plugin", p.Name).Str("title", current.Title).
				Msg("plugin: notification vetoed")
			return alert.Alert{}, false
		}
	}

	return current, true
}

func (c *Chain) snapshot() []Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Plugin, len(c.plugins))
	copy(out, c.plugins)
	return out
}

// guard runs fn and converts a panic into an error.
func guard(name, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("plugin", name).Str("hook", hook).
				Str("stack", string(debug.Stack())).Msg("plugin: panic recovered")
			err = fmt.Errorf("plugin %q: %s panicked: %v", name, hook, r)
		}
	}()
	return fn()
}
