package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"loopsync/backend/pkg/logger"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	Critical    bool      `json:"critical"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registered struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system and mirrors the overall
// result into a gRPC health server.
type Checker struct {
	checks      map[string]registered
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
	grpc        *health.Server
	now         func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}
	checker := &Checker{
		checks:      make(map[string]registered),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     5 * time.Second,
		log:         log.WithComponent("health"),
		grpc:        health.NewServer(),
		now:         time.Now,
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check. A critical component that is
// down makes the whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registered{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
		Critical:    critical,
	}
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mutex.RUnlock()

	type result struct {
		status Status
		desc   string
		err    error
	}
	results := make(map[string]result, len(checks))
	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		status, desc, err := r.check(checkCtx)
		cancel()
		results[name] = result{status, desc, err}
	}

	c.mutex.Lock()
	now := c.now()
	for name, res := range results {
		component, ok := c.components[name]
		if !ok {
			continue
		}
		component.Status = res.status
		component.Description = res.desc
		component.LastChecked = now

		if res.err != nil {
			component.Error = res.err.Error()
			c.log.Error("Health check failed",
				"component", name,
				"status", string(res.status),
				"error", res.err.Error(),
			)
		} else {
			component.Error = ""
			c.log.Debug("Health check completed",
				"component", name,
				"status", string(res.status),
			)
		}
	}
	healthy := c.healthyLocked()
	c.mutex.Unlock()

	if healthy {
		c.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		c.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Start runs the checks now and then periodically until Stop
func (c *Checker) Start(ctx context.Context) {
	c.mutex.Lock()
	if c.done != nil {
		c.mutex.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	c.done = done
	c.mutex.Unlock()

	c.RunChecks(ctx)

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// Stop halts periodic checks and marks the gRPC service as not serving
func (c *Checker) Stop() {
	c.mutex.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.grpc.Shutdown()
}

// GetStatus returns a copy of the current component states
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.healthyLocked()
}

func (c *Checker) healthyLocked() bool {
	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// GRPCServer returns the gRPC health service kept in sync with the checks
func (c *Checker) GRPCServer() healthpb.HealthServer {
	return c.grpc
}

// Handler returns a gin handler reporting component health
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		components := c.GetStatus()
		names := make([]string, 0, len(components))
		for name := range components {
			names = append(names, name)
		}
		sort.Strings(names)

		list := make([]*Component, 0, len(names))
		for _, name := range names {
			list = append(list, components[name])
		}

		status, code := "ok", http.StatusOK
		if !c.IsSystemHealthy() {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"timestamp":  c.now().UTC().Format(time.RFC3339),
			"components": list,
		})
	}
}
