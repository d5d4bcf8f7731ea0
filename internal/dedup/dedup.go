package dedup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// DefaultCooldown is used when New is given a zero cooldown.
const DefaultCooldown = 5 * time.Minute

// ErrInvalidCooldown is returned by New for negative cooldowns.
var ErrInvalidCooldown = errors.New("dedup: cooldown must not be negative")

// entry tracks one fingerprint.
type entry struct {
	lastSentAt time.Time
	sent       int64
	suppressed int64
}

// Stats is a read-only view of one fingerprint's entry.
type Stats struct {
	Fingerprint string    `json:"fingerprint"`
	LastSentAt  time.Time `json:"last_sent_at"`
	Sent        int64     `json:"sent"`
	Suppressed  int64     `json:"suppressed"`
}

// Deduplicator suppresses alerts whose fingerprint passed within the cooldown.
//
// Deduplicator is safe for concurrent use.
type Deduplicator struct {
	mu       sync.Mutex
	cooldown time.Duration
	entries  map[string]*entry
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Deduplicator. A zero cooldown selects DefaultCooldown.
func New(cooldown time.Duration) (*Deduplicator, error) {
	if cooldown < 0 {
		return nil, fmt.Errorf("%w (got %s)", ErrInvalidCooldown, cooldown)
	}
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	return &Deduplicator{
		cooldown: cooldown,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}, nil
}

// ShouldSend reports whether a may proceed. A true result records a send for
// its fingerprint; a false result counts a suppression and leaves the last
// send time untouched.
func (d *Deduplicator) ShouldSend(a alert.Alert) bool {
	key := a.Fingerprint()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		d.entries[key] = &entry{lastSentAt: now, sent: 1}
		return true
	}
	if now.Sub(e.lastSentAt) >= d.cooldown {
		e.lastSentAt = now
		e.sent++
		return true
	}
	e.suppressed++
	return false
}

// SuppressedCount returns the number of suppressed occurrences across all
// fingerprints since creation or the last Reset.
func (d *Deduplicator) SuppressedCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, e := range d.entries {
		n += e.suppressed
	}
	return n
}

// Reset forgets every fingerprint.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.entries = make(map[string]*entry)
	d.mu.Unlock()
}

// ResetKey forgets a single fingerprint so its next occurrence passes.
func (d *Deduplicator) ResetKey(sev alert.Severity, title string) {
	d.mu.Lock()
	delete(d.entries, alert.Fingerprint(sev, title))
	d.mu.Unlock()
}

// Cooldown returns the current cooldown.
func (d *Deduplicator) Cooldown() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldown
}

// SetCooldown replaces the cooldown for subsequent ShouldSend calls. Existing
// entries are kept. Used on config reload.
func (d *Deduplicator) SetCooldown(cooldown time.Duration) error {
	if cooldown < 0 {
		return fmt.Errorf("%w (got %s)", ErrInvalidCooldown, cooldown)
	}
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	d.mu.Lock()
	d.cooldown = cooldown
	d.mu.Unlock()
	return nil
}

// Len returns the number of tracked fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Snapshot returns a copy of every entry.
func (d *Deduplicator) Snapshot() []Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Stats, 0, len(d.entries))
	for k, e := range d.entries {
		out = append(out, Stats{
			Fingerprint: k,
			LastSentAt:  e.lastSentAt,
			Sent:        e.sent,
			Suppressed:  e.suppressed,
		})
	}
	return out
}
