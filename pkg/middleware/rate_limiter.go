package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
)

// RateLimiterOptions configures the rate limiter
type RateLimiterOptions struct {
	// Limit defines requests per second
	Limit rate.Limit
	// Burst defines maximum burst size allowed
	Burst int
	// ExpiryDuration defines how long to keep client state in memory
	ExpiryDuration time.Duration
	// CleanupInterval is how often idle clients are dropped
	CleanupInterval time.Duration
	// KeyFunc extracts the limiting key from a request
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimiterOptions returns 5 requests per second with a burst of 10 per identity
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Limit:           5,
		Burst:           10,
		ExpiryDuration:  time.Hour,
		CleanupInterval: time.Minute,
		KeyFunc:         Identity,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-identity token bucket for the non-chat API routes.
// Chat routes are governed by the guardrails' fixed windows instead.
type RateLimiter struct {
	mu      sync.Mutex
	options RateLimiterOptions
	clients map[string]*client
	logger  *logger.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(log *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		o := options[0]
		if o.Limit > 0 {
			opts.Limit = o.Limit
		}
		if o.Burst > 0 {
			opts.Burst = o.Burst
		}
		if o.ExpiryDuration > 0 {
			opts.ExpiryDuration = o.ExpiryDuration
		}
		if o.CleanupInterval > 0 {
			opts.CleanupInterval = o.CleanupInterval
		}
		if o.KeyFunc != nil {
			opts.KeyFunc = o.KeyFunc
		}
	}

	return &RateLimiter{
		options: opts,
		clients: make(map[string]*client),
		logger:  log.WithComponent("http_rate_limiter"),
	}
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)

		if !r.getLimiter(key).Allow() {
			r.logger.Warn("Rate limit exceeded",
				"client", key,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", strconv.Itoa(r.options.Burst))
			_ = c.Error(errors.NewTooManyRequestsError(errors.CodeRateLimited, "Too many requests. Please try again later."))
			c.Abort()
			return
		}

		c.Next()
	}
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.clients[key]
	if !exists {
		limiter := rate.NewLimiter(r.options.Limit, r.options.Burst)
		r.clients[key] = &client{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops clients idle for longer than the expiry duration
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, v := range r.clients {
		if time.Since(v.lastSeen) > r.options.ExpiryDuration {
			delete(r.clients, k)
			removed++
		}
	}
	return removed
}

// Start launches the idle-client cleanup loop
func (r *RateLimiter) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.options.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}(r.done)
}

// Stop halts the cleanup loop and waits for it to exit
func (r *RateLimiter) Stop() {
	r.runMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
