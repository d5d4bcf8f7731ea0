package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// DefaultTTL is how long a dispatched alert stays listed.
const DefaultTTL = 24 * time.Hour

// Entry is one dispatched alert with its delivery outcome.
type Entry struct {
	ID         string      `json:"id"`
	Alert      alert.Alert `json:"alert"`
	RecordedAt time.Time   `json:"recorded_at"`
	Delivered  []string    `json:"delivered,omitempty"`
	Failed     []string    `json:"failed,omitempty"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	MinSeverity alert.Severity
	Since       time.Time
	Limit       int
}

// Store is a thread-safe in-memory alert history keyed by entry ID.
// A background goroutine (Run) periodically evicts entries older than the TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL. A non-positive ttl selects
// DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Add records a dispatched alert and returns its entry ID.
func (s *Store) Add(a alert.Alert, delivered, failed []string) string {
	e := &Entry{
		ID:         uuid.NewString(),
		Alert:      a.Clone(),
		RecordedAt: s.now(),
		Delivered:  delivered,
		Failed:     failed,
	}
	s.mu.Lock()
	s.data[e.ID] = e
	s.mu.Unlock()
	return e.ID
}

// Get returns the entry with the given ID. The entry may be stale if TTL has
// elapsed but Run has not evicted it yet.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns entries within the TTL matching f, newest first.
func (s *Store) List(f Filter) []Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		if !e.RecordedAt.After(cutoff) {
			continue
		}
		if !f.Since.IsZero() && e.RecordedAt.Before(f.Since) {
			continue
		}
		if f.MinSeverity != "" && e.Alert.Severity.Rank() < f.MinSeverity.Rank() {
			continue
		}
		out = append(out, *e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Count returns the total number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries recorded at or before now minus TTL and returns how
// many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.RecordedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (minimum 1 second) until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				log.Debug().Int("count", n).Msg("history: evicted stale alerts")
			}
		}
	}
}
