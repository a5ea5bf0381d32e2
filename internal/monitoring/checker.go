package monitoring

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dependency is an external executable the pipeline shells out to.
type Dependency struct {
	Name   string
	Binary string
}

// Checker periodically verifies that external tools are installed and
// publishes the result as a gauge and through Status.
type Checker struct {
	metrics  *Metrics
	interval time.Duration
	deps     []Dependency
	lookPath func(string) (string, error)

	mu     sync.RWMutex
	status map[string]bool
}

// NewChecker creates a dependency checker. A non-positive interval defaults
// to five minutes.
func NewChecker(metrics *Metrics, interval time.Duration, deps ...Dependency) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		metrics:  metrics,
		interval: interval,
		deps:     deps,
		lookPath: exec.LookPath,
		status:   make(map[string]bool, len(deps)),
	}
}

// Run checks once immediately, then on every tick. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting dependency checker",
		zap.Duration("interval", c.interval),
		zap.Int("dependencies", len(c.deps)),
	)

	c.Check(log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dependency checker stopped")
			return
		case <-ticker.C:
			c.Check(log)
		}
	}
}

// Check probes every dependency once.
func (c *Checker) Check(log *zap.Logger) {
	for _, d := range c.deps {
		_, err := c.lookPath(d.Binary)
		up := err == nil

		c.mu.Lock()
		prev, seen := c.status[d.Name]
		c.status[d.Name] = up
		c.mu.Unlock()

		c.metrics.SetDependencyUp(d.Name, up)

		if !up && (!seen || prev) {
			log.Warn("monitoring: dependency unavailable",
				zap.String("dependency", d.Name),
				zap.String("binary", d.Binary),
				zap.Error(err),
			)
		}
	}
}

// Status returns the last observed availability of every dependency.
func (c *Checker) Status() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}
