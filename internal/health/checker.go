// Package health provides periodic health checks over the actor system and
// its journal.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/metrics"
)

// DefaultInterval is how often checks run.
const DefaultInterval = 30 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Target is the part of the actor system the checker observes.
type Target interface {
	NodeID() string
	Running() bool
	Nodes() []domain.Node
	LivenessTimeout() time.Duration
}

// Pinger is satisfied by the journal database.
type Pinger interface {
	Ping() error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker for sys. The journal check is added only when
// db is non-nil.
func NewChecker(sys Target, db Pinger, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	checks := []Check{
		{
			Name: "system",
			CheckFn: func(ctx context.Context) error {
				if !sys.Running() {
					return domain.ErrNotRunning
				}
				return nil
			},
		},
		{
			Name: "nodes",
			CheckFn: func(ctx context.Context) error {
				return checkLocalNode(sys, time.Now())
			},
		},
	}
	if db != nil {
		checks = append(checks, Check{
			Name: "journal",
			CheckFn: func(ctx context.Context) error {
				return db.Ping()
			},
			RecoverFn: func(ctx context.Context) error {
				return nil // SQLite auto-recovers via WAL
			},
		})
	}
	return &Checker{interval: interval, checks: checks}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			// Attempt recovery
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// checkLocalNode fails when the local node is missing, offline, or has not
// refreshed its own heartbeat within the liveness timeout.
func checkLocalNode(sys Target, now time.Time) error {
	for _, n := range sys.Nodes() {
		if n.ID != sys.NodeID() {
			continue
		}
		if !n.IsReachable() {
			return fmt.Errorf("local node %s is offline", n.ID)
		}
		if age := now.Sub(n.LastHeartbeat); age > sys.LivenessTimeout() {
			return fmt.Errorf("local node %s heartbeat is stale (%s old)", n.ID, age.Round(time.Millisecond))
		}
		return nil
	}
	return fmt.Errorf("local node %s not registered", sys.NodeID())
}
