// Package throttle provides per-identity fixed-window admission control.
package throttle

import (
	"sync"
	"time"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/metrics"
)

// Default policy: 10 admissions per 60 seconds per identity.
const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second
)

// Config defines the admission policy.
type Config struct {
	// MaxRequests is the number of admissions allowed per window.
	MaxRequests int
	// Window is the length of an admission window.
	Window time.Duration
}

// Entry is the admission state of one identity.
type Entry struct {
	Key       string
	Count     int
	ResetTime time.Time
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// WaitTime is how long a denied caller must wait. Zero when allowed.
	WaitTime  time.Duration
	ResetTime time.Time
}

// Throttler tracks admissions per identity.
type Throttler struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cfg     Config
	now     func() time.Time
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Throttler) {
		t.now = now
	}
}

// New creates a Throttler. Zero config fields take the default policy.
func New(cfg Config, opts ...Option) *Throttler {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	t := &Throttler{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CheckLimit admits or denies one request for identity. The check and
// the increment happen under one lock.
func (t *Throttler) CheckLimit(identity string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[identity]
	if !ok || !now.Before(entry.ResetTime) {
		entry = &Entry{Key: identity, Count: 1, ResetTime: now.Add(t.cfg.Window)}
		t.entries[identity] = entry
		metrics.ThrottleEntries.Set(float64(len(t.entries)))
		metrics.ThrottleDecisions.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true, Remaining: t.cfg.MaxRequests - 1, ResetTime: entry.ResetTime}
	}

	if entry.Count < t.cfg.MaxRequests {
		entry.Count++
		metrics.ThrottleDecisions.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true, Remaining: t.cfg.MaxRequests - entry.Count, ResetTime: entry.ResetTime}
	}

	metrics.ThrottleDecisions.WithLabelValues("denied").Inc()
	return Decision{
		Allowed:   false,
		WaitTime:  entry.ResetTime.Sub(now),
		ResetTime: entry.ResetTime,
	}
}

// Admit checks the limit and reports a denial as *domain.AdmissionDeniedError.
func (t *Throttler) Admit(identity string) error {
	if d := t.CheckLimit(identity); !d.Allowed {
		return &domain.AdmissionDeniedError{WaitTime: d.WaitTime}
	}
	return nil
}

// Reset forgets the admissions of one identity.
func (t *Throttler) Reset(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, identity)
	metrics.ThrottleEntries.Set(float64(len(t.entries)))
}

// Clear forgets all admissions.
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*Entry)
	metrics.ThrottleEntries.Set(0)
}

// Sweep removes entries whose window has elapsed and returns how many
// were removed.
func (t *Throttler) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, entry := range t.entries {
		if !now.Before(entry.ResetTime) {
			delete(t.entries, key)
			removed++
		}
	}
	metrics.ThrottleEntries.Set(float64(len(t.entries)))
	return removed
}

// Len returns the number of tracked identities.
func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Lookup returns a copy of the entry for identity.
func (t *Throttler) Lookup(identity string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}
