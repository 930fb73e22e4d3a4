// Package ratelimit implements per-subject sliding window rate limiting.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 20
	// DefaultWindow is the sliding window length.
	DefaultWindow = 60 * time.Second
)

// ExceededError reports a refused request and how long until the next one
// would be admitted.
type ExceededError struct {
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %d seconds", int(e.RetryAfter.Seconds()))
}

// Status describes a subject's current window.
type Status struct {
	Remaining     int `json:"remaining"`
	Limit         int `json:"limit"`
	ResetSeconds  int `json:"reset_in_seconds"`
	WindowSeconds int `json:"window_seconds"`
}

// Limiter tracks request timestamps per subject in memory. Stale windows
// are pruned on access. Safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	exempt map[string]bool // subjects never limited
	now    func() time.Time

	mu      sync.Mutex
	history map[string][]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithExempt names a subject the limiter never refuses. May be applied
// multiple times.
func WithExempt(subject string) Option {
	return func(l *Limiter) { l.exempt[subject] = true }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a sliding window limiter. Non-positive limit or window fall
// back to the defaults.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		exempt:  make(map[string]bool),
		now:     time.Now,
		history: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or refuses one request for the subject. On refusal it
// returns an *ExceededError carrying the wait until the oldest tracked
// request leaves the window. Admitted requests are recorded.
func (l *Limiter) Check(subject string) error {
	if l.exempt[subject] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(subject, now)

	if len(recent) >= l.limit {
		retry := l.window - now.Sub(recent[0])
		return &ExceededError{RetryAfter: retry}
	}

	l.history[subject] = append(recent, now)
	return nil
}

// Status reports the subject's remaining budget without consuming any.
func (l *Limiter) Status(subject string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(subject, now)
	l.history[subject] = recent

	st := Status{
		Remaining:     l.limit - len(recent),
		Limit:         l.limit,
		WindowSeconds: int(l.window.Seconds()),
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if len(recent) > 0 {
		st.ResetSeconds = int((l.window - now.Sub(recent[0])).Seconds())
	}
	return st
}

// Reset clears the subject's window.
func (l *Limiter) Reset(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, subject)
}

// prune drops timestamps outside the window. Callers hold l.mu. The
// returned slice stays in ascending order, oldest first.
func (l *Limiter) prune(subject string, now time.Time) []time.Time {
	history := l.history[subject]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return history
	}
	if i == len(history) {
		delete(l.history, subject)
		return nil
	}
	return history[i:]
}
