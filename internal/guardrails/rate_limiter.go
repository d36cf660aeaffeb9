package guardrails

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/logger"
)

// Window is a fixed rate-limit window
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	if w == WindowHour {
		return time.Hour
	}
	return time.Minute
}

// Limits configures the per-identity quotas
type Limits struct {
	MaxPerMinute int
	MaxPerHour   int
}

// Counter is the state of one (identity, window) pair
type Counter struct {
	Count   int
	ResetAt time.Time
}

// WindowStore persists fixed-window counters.
// Take charges one message against the window unless the counter already
// holds limit, in which case it reports allowed=false and leaves the counter untouched.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error)
	// Sweep deletes counters whose reset time passed more than grace ago
	Sweep(now time.Time, grace time.Duration) int
}

// MemoryStore keeps counters in process memory
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewMemoryStore creates an empty in-memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*Counter)}
}

// Take implements WindowStore
func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || now.After(c.ResetAt) {
		c = &Counter{Count: 1, ResetAt: now.Add(window)}
		s.counters[key] = c
		return *c, true, nil
	}

	if c.Count >= limit {
		return *c, false, nil
	}
	c.Count++
	return *c, true, nil
}

// Sweep implements WindowStore
func (s *MemoryStore) Sweep(now time.Time, grace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.counters {
		if now.Sub(c.ResetAt) > grace {
			delete(s.counters, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// RateLimiter applies minute and hour fixed windows per identity
type RateLimiter struct {
	store         WindowStore
	log           *logger.Logger
	now           func() time.Time
	sweepInterval time.Duration
	sweepGrace    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RateLimiterOptions configures a RateLimiter
type RateLimiterOptions struct {
	Store         WindowStore
	SweepInterval time.Duration
	SweepGrace    time.Duration
	// Clock overrides time.Now, mainly for tests
	Clock func() time.Time
}

// NewRateLimiter creates a rate limiter; a nil store selects the in-memory one
func NewRateLimiter(log *logger.Logger, opts RateLimiterOptions) *RateLimiter {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.SweepGrace < 0 {
		opts.SweepGrace = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &RateLimiter{
		store:         opts.Store,
		log:           log.WithComponent("rate_limiter"),
		now:           opts.Clock,
		sweepInterval: opts.SweepInterval,
		sweepGrace:    opts.SweepGrace,
	}
}

// Check charges one message for identity. The minute window is charged first;
// a minute rejection never reaches the hour window.
func (r *RateLimiter) Check(ctx context.Context, identity string, limits Limits) models.GuardrailDecision {
	now := r.now()

	minute, ok, err := r.store.Take(ctx, key(identity, WindowMinute), limits.MaxPerMinute, WindowMinute.Duration(), now)
	if err != nil {
		r.log.LogError(err, "Rate limit store unavailable, allowing request", "identity", identity)
		return models.Allow()
	}
	if !ok {
		r.log.Warn("Rate limit exceeded", "identity", identity, "window", WindowMinute, "count", minute.Count)
		return limitDecision(WindowMinute, minute.ResetAt.Sub(now))
	}

	hour, ok, err := r.store.Take(ctx, key(identity, WindowHour), limits.MaxPerHour, WindowHour.Duration(), now)
	if err != nil {
		r.log.LogError(err, "Rate limit store unavailable, allowing request", "identity", identity)
		return models.Allow()
	}
	if !ok {
		r.log.Warn("Rate limit exceeded", "identity", identity, "window", WindowHour, "count", hour.Count)
		return limitDecision(WindowHour, hour.ResetAt.Sub(now))
	}

	return models.Allow()
}

func key(identity string, w Window) string {
	return identity + ":" + string(w)
}

func limitDecision(w Window, retryIn time.Duration) models.GuardrailDecision {
	if retryIn < 0 {
		retryIn = 0
	}
	if w == WindowMinute {
		secs := int(retryIn.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return models.GuardrailDecision{
			Allowed:    false,
			Reason:     "You're sending messages too quickly. Please slow down.",
			Suggestion: fmt.Sprintf("Wait about %d seconds before sending another message.", secs),
			Severity:   models.SeverityMedium,
		}
	}
	mins := int(retryIn.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return models.GuardrailDecision{
		Allowed:    false,
		Reason:     "You've reached the hourly message limit. Please slow down and take a break.",
		Suggestion: fmt.Sprintf("You can continue the conversation in about %d minutes.", mins),
		Severity:   models.SeverityMedium,
	}
}

// Start launches the background sweep. It is a no-op when already running.
func (r *RateLimiter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.sweepLoop(ctx, r.done)
}

// Stop halts the background sweep and waits for it to exit
func (r *RateLimiter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep removes expired counters immediately
func (r *RateLimiter) Sweep() int {
	return r.store.Sweep(r.now(), r.sweepGrace)
}

func (r *RateLimiter) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.log.Debug("Swept expired rate limit counters", "removed", removed)
			}
		}
	}
}
