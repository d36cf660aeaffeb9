package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"loopsync/backend/pkg/logger"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit open")

// State is the current state of a circuit breaker
type State string

const (
	// StateClosed lets every call through
	StateClosed State = "closed"
	// StateOpen short-circuits every call until the cooldown passes
	StateOpen State = "open"
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen State = "half-open"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	Clock    func() time.Time
}

// DefaultConfig returns a breaker that opens after 5 consecutive failures for one minute
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// Stats is a point-in-time view of the breaker counters
type Stats struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	TotalRequests     uint64    `json:"total_requests"`
	TotalFailures     uint64    `json:"total_failures"`
	TotalSuccesses    uint64    `json:"total_successes"`
	TotalRejected     uint64    `json:"total_rejected"`
	ConsecutiveErrors uint64    `json:"consecutive_errors"`
	OpenCount         uint64    `json:"open_count"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name             string
	failureThreshold uint
	successThreshold uint
	cooldown         time.Duration
	now              func() time.Time
	log              *logger.Logger

	mu              sync.Mutex
	state           State
	failureCount    uint
	successCount    uint
	inFlightProbes  uint
	nextAttemptTime time.Time
	stats           Stats
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		now:              cfg.Clock,
		log:              log.WithComponent("circuit_breaker"),
		state:            StateClosed,
		stats:            Stats{Name: cfg.Name},
	}
}

// Execute runs fn through the breaker. Context cancellation by the caller is
// not counted as a failure of the protected dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request", "name", cb.name, "state", string(cb.State()))
		return ErrCircuitOpen
	}

	start := cb.now()
	err := fn(ctx)

	switch {
	case err == nil:
		cb.recordSuccess()
		cb.log.Debug("Circuit breaker recorded success", "name", cb.name, "duration", cb.now().Sub(start).String())
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		cb.release()
	default:
		cb.recordFailure()
		cb.log.Warn("Circuit breaker recorded failure",
			"name", cb.name,
			"error", err.Error(),
			"duration", cb.now().Sub(start).String(),
		)
	}
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			cb.stats.TotalRejected++
			return false
		}
		cb.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.successCount+cb.inFlightProbes >= cb.successThreshold {
			cb.stats.TotalRejected++
			return false
		}
		cb.inFlightProbes++
	}
	cb.stats.TotalRequests++
	return true
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalSuccesses++
	cb.stats.ConsecutiveErrors = 0

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		if cb.inFlightProbes > 0 {
			cb.inFlightProbes--
		}
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalFailures++
	cb.stats.ConsecutiveErrors++
	cb.stats.LastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		// any failed probe reopens
		cb.toOpen()
	}
}

// Caller holds mu for all transitions.
func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.inFlightProbes = 0
	cb.stats.OpenCount++
	cb.nextAttemptTime = cb.now().Add(cb.cooldown)

	cb.log.Info("Circuit breaker opened",
		"name", cb.name,
		"failures", cb.failureCount,
		"nextAttempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.inFlightProbes = 0
	cb.log.Info("Circuit breaker half-open", "name", cb.name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.inFlightProbes = 0
	cb.log.Info("Circuit breaker closed", "name", cb.name)
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the current counters
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}
