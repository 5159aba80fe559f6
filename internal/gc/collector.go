// Package gc periodically evicts expired jobs and cache entries.
package gc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
)

// Sweeper removes entries that expired before now.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Target is a named sweeper; the name labels logs and metrics.
type Target struct {
	Name    string
	Sweeper Sweeper
}

// Collector runs every registered target on a fixed interval.
type Collector struct {
	interval time.Duration
	targets  []Target
	clock    lookup.Clock
	logger   *zap.Logger

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a collector. Targets with a nil Sweeper are ignored.
func New(interval time.Duration, clock lookup.Clock, logger *zap.Logger, targets ...Target) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Sweeper != nil {
			kept = append(kept, t)
		}
	}
	return &Collector{
		interval: interval,
		targets:  kept,
		clock:    clock,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop; it ends when ctx is canceled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepOnce()
		}
	}
}

// SweepOnce runs every target once and returns the evictions per target.
func (c *Collector) SweepOnce() map[string]int {
	now := c.clock.Now()
	counts := make(map[string]int, len(c.targets))
	for _, t := range c.targets {
		n := t.Sweeper.Sweep(now)
		counts[t.Name] = n
		metrics.ObserveEviction(t.Name, n)
		if n > 0 {
			c.logger.Info("evicted expired entries", zap.String("target", t.Name), zap.Int("count", n))
		}
	}
	return counts
}

// Stop ends the loop and waits for it to exit. Safe to call without Start.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		<-c.done
	})
}
