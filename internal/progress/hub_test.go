package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobQueued))
	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageJobStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.closed)

	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sink := &stubSink{block: block}
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1, MaxBatchWait: time.Minute}, sink)

	start := time.Now()
	for range 20 {
		hub.Emit(sampleEvent(StageJobStart))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Positive(t, hub.Dropped())

	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubSkipsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageJobStart})
	hub.Emit(Event{JobID: "x", TS: time.Now(), Stage: StageJobError})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bad := &stubSink{err: errors.New("down")}
	good := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, bad, nil, good)
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, good.Batches(), 1)
}

func TestEventOutcome(t *testing.T) {
	t.Parallel()

	_, ok := sampleEvent(StageJobStart).Outcome()
	require.False(t, ok)

	done := sampleEvent(StageJobDone)
	out, ok := done.Outcome()
	require.True(t, ok)
	require.Equal(t, lookup.StateCompleted, out.State)
	require.True(t, out.Found)
	require.Equal(t, 1, out.RecordCount)

	failed := Event{JobID: "j", TS: time.Now(), Stage: StageJobError, Kind: lookup.KindExecutionTimeout, Note: "slow"}
	require.NoError(t, failed.Validate())
	out, ok = failed.Outcome()
	require.True(t, ok)
	require.Equal(t, lookup.StateFailed, out.State)
	require.Equal(t, lookup.KindExecutionTimeout, out.ErrorKind)

	cached := sampleEvent(StageJobCached)
	out, _ = cached.Outcome()
	require.True(t, out.FromCache)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
	block   chan struct{}
	closed  bool
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func sampleEvent(stage Stage) Event {
	evt := Event{JobID: "0190b7a0-0000-7000-8000-000000000001", TS: time.Now(), Stage: stage, Key: "12345678901"}
	if stage == StageJobDone || stage == StageJobCached {
		evt.Result = &lookup.Result{Key: evt.Key, Found: true, Records: []lookup.Record{{"a": "1"}}}
	}
	return evt
}
