package gc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/clock/manual"
)

type countingSweeper struct {
	calls atomic.Int32
	evict int
	last  atomic.Value
}

func (s *countingSweeper) Sweep(now time.Time) int {
	s.calls.Add(1)
	s.last.Store(now)
	return s.evict
}

func TestCollectorSweepOnce(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	jobs := &countingSweeper{evict: 3}
	cache := &countingSweeper{}
	c := New(time.Minute, manual.New(now), nil,
		Target{Name: "jobs", Sweeper: jobs},
		Target{Name: "cache", Sweeper: cache},
		Target{Name: "disabled"},
	)

	counts := c.SweepOnce()
	require.Equal(t, map[string]int{"jobs": 3, "cache": 0}, counts)
	require.Equal(t, now, jobs.last.Load())
	require.Equal(t, int32(1), cache.calls.Load())
}

func TestCollectorRunsOnInterval(t *testing.T) {
	t.Parallel()

	s := &countingSweeper{evict: 1}
	c := New(10*time.Millisecond, manual.New(time.Now()), nil, Target{Name: "jobs", Sweeper: s})
	c.Start(context.Background())

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	c.Stop()
	after := s.calls.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, s.calls.Load())
	c.Stop()
}

func TestCollectorStopWithoutStart(t *testing.T) {
	t.Parallel()

	c := New(0, manual.New(time.Now()), nil)
	require.NotPanics(t, c.Stop)
}
