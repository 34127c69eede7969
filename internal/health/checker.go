package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component
type Status struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latencyNs"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Dependency is a named check against an external service
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

// Checker periodically checks health of system components
type Checker struct {
	mu       sync.RWMutex
	statuses []Status
	deps     []Dependency
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewChecker creates a new health checker
func NewChecker(interval time.Duration, deps ...Dependency) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Checker{
		deps:     deps,
		interval: interval,
		timeout:  5 * time.Second,
		now:      time.Now,
	}
}

// Run checks immediately and then on every interval until ctx is done
func (c *Checker) Run(ctx context.Context) error {
	c.Check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs every dependency concurrently and stores the results
func (c *Checker) Check(ctx context.Context) []Status {
	statuses := make([]Status, len(c.deps))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.deps {
		g.Go(func() error {
			statuses[i] = c.run(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	prev := c.statuses
	c.statuses = statuses
	c.mu.Unlock()

	for i, s := range statuses {
		wasHealthy := i >= len(prev) || prev[i].Healthy
		if !s.Healthy && wasHealthy {
			log.Warn().Str("component", s.Name).Str("error", s.Error).Msg("health check failing")
		} else if s.Healthy && !wasHealthy {
			log.Info().Str("component", s.Name).Dur("latency", s.Latency).Msg("health check recovered")
		}
	}
	return statuses
}

func (c *Checker) run(ctx context.Context, p Dependency) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	err := p.Check(ctx)
	status := Status{
		Name:      p.Name,
		Healthy:   err == nil,
		Latency:   c.now().Sub(start),
		CheckedAt: start,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// GetStatuses returns current health statuses
func (c *Checker) GetStatuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Status(nil), c.statuses...)
}

// Healthy is true when every dependency passed on the last check.
// Before the first check it reports true.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
