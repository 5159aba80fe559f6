// Package scheduler admits lookup jobs in FIFO order and runs at most a fixed
// number of executions at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// ErrClosed is returned by Submit and Resolve after Close.
var ErrClosed = errors.New("scheduler closed")

const tracerName = "github.com/JakeFAU/scrape-queue/internal/scheduler"

// Config bounds admission.
type Config struct {
	// Concurrency is the ceiling on simultaneous executions.
	Concurrency int
	// ExecutionTimeout caps one executor run.
	ExecutionTimeout time.Duration
}

// Deps are the scheduler's collaborators. Cache and Events may be nil.
type Deps struct {
	Store    lookup.JobStore
	Cache    lookup.ResultCache
	Executor lookup.Executor
	IDs      lookup.IDGenerator
	Clock    lookup.Clock
	Events   progress.Emitter
	Logger   *zap.Logger
}

type entry struct {
	jobID string
	key   string
}

// Scheduler owns the wait queue and the active-execution count.
type Scheduler struct {
	cfg    Config
	store  lookup.JobStore
	cache  lookup.ResultCache
	exec   lookup.Executor
	ids    lookup.IDGenerator
	clock  lookup.Clock
	events progress.Emitter
	logger *zap.Logger
	tracer trace.Tracer

	baseCtx context.Context
	abort   context.CancelFunc

	mu     sync.Mutex
	queue  []entry
	active int
	closed bool
	wg     sync.WaitGroup
}

// New validates cfg and builds a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.ExecutionTimeout <= 0 {
		return nil, errors.New("execution timeout must be > 0")
	}
	if deps.Store == nil || deps.Executor == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("scheduler requires a store, executor, id generator, and clock")
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	baseCtx, abort := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		store:   deps.Store,
		cache:   deps.Cache,
		exec:    deps.Executor,
		ids:     deps.IDs,
		clock:   deps.Clock,
		events:  deps.Events,
		logger:  deps.Logger,
		tracer:  otel.Tracer(tracerName),
		baseCtx: baseCtx,
		abort:   abort,
	}, nil
}

// Resolve answers from the result cache when possible and otherwise submits
// a new job. A cache hit produces an already-completed job.
func (s *Scheduler) Resolve(ctx context.Context, key string) (lookup.Job, error) {
	if s.cache != nil {
		if result, ok := s.cache.Lookup(key); ok {
			return s.recordCached(ctx, key, result)
		}
	}
	return s.Submit(ctx, key)
}

func (s *Scheduler) recordCached(ctx context.Context, key string, result lookup.Result) (lookup.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lookup.Job{}, ErrClosed
	}
	id, err := s.ids.NewID()
	if err != nil {
		return lookup.Job{}, fmt.Errorf("new job id: %w", err)
	}
	now := s.clock.Now()
	job := lookup.Job{
		ID:         id,
		Key:        key,
		State:      lookup.StateCompleted,
		Result:     &result,
		FromCache:  true,
		CreatedAt:  now,
		FinishedAt: &now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return lookup.Job{}, fmt.Errorf("store cached job: %w", err)
	}
	metrics.ObserveJob("cached", "")
	s.events.Emit(progress.Event{JobID: id, TS: now, Stage: progress.StageJobCached, Key: key, Result: &result})
	s.logger.Debug("served from cache", zap.String("job_id", id), zap.String("key", key))
	return job.Clone(), nil
}

// Submit records a queued job, appends it to the wait queue, and admits as
// many queued jobs as the ceiling allows. It never blocks on execution.
func (s *Scheduler) Submit(ctx context.Context, key string) (lookup.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lookup.Job{}, ErrClosed
	}
	id, err := s.ids.NewID()
	if err != nil {
		return lookup.Job{}, fmt.Errorf("new job id: %w", err)
	}
	job := lookup.Job{
		ID:        id,
		Key:       key,
		State:     lookup.StateQueued,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return lookup.Job{}, fmt.Errorf("store job: %w", err)
	}
	s.queue = append(s.queue, entry{jobID: id, key: key})
	s.events.Emit(progress.Event{JobID: id, TS: job.CreatedAt, Stage: progress.StageJobQueued, Key: key})
	s.logger.Debug("job queued", zap.String("job_id", id), zap.String("key", key), zap.Int("queued", len(s.queue)))

	s.driveLocked()

	if current, err := s.store.Get(ctx, id); err == nil {
		return current, nil
	}
	return job, nil
}

// driveLocked admits queued jobs while slots are free. Callers hold s.mu.
func (s *Scheduler) driveLocked() {
	for s.active < s.cfg.Concurrency && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = entry{}
		s.queue = s.queue[1:]

		startedAt := s.clock.Now()
		if _, err := s.store.Update(context.Background(), next.jobID, lookup.Processing(startedAt)); err != nil {
			s.logger.Warn("skipping queued job", zap.String("job_id", next.jobID), zap.Error(err))
			continue
		}
		s.active++
		s.wg.Add(1)
		go s.run(next, startedAt)
	}
	if len(s.queue) == 0 {
		s.queue = nil
	}
	metrics.SetQueueDepth(len(s.queue))
	metrics.SetActiveExecutions(s.active)
}

func (s *Scheduler) run(e entry, startedAt time.Time) {
	defer s.wg.Done()
	s.events.Emit(progress.Event{JobID: e.jobID, TS: startedAt, Stage: progress.StageJobStart, Key: e.key})
	s.logger.Info("job started", zap.String("job_id", e.jobID), zap.String("key", e.key))

	result, err := s.execute(e)
	s.complete(e, startedAt, result, err)
}

type outcome struct {
	result lookup.Result
	err    error
}

// execute runs the executor under the execution timeout. It returns as soon
// as the deadline passes, even if the executor ignores cancellation.
func (s *Scheduler) execute(e entry) (lookup.Result, error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ExecutionTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler.execute", trace.WithAttributes(
		attribute.String("job.id", e.jobID),
		attribute.String("lookup.key", e.key),
	))
	defer span.End()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: lookup.NewExecError(lookup.KindUpstreamFailure, fmt.Errorf("executor panic: %v", r))}
			}
		}()
		res, err := s.exec.Execute(ctx, e.key)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.err = lookup.NewExecError(lookup.KindExecutionTimeout,
				fmt.Errorf("execution exceeded %s", s.cfg.ExecutionTimeout))
		} else {
			out.err = lookup.NewExecError(lookup.KindUpstreamFailure, errors.New("execution aborted by shutdown"))
		}
	}
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, string(lookup.KindOf(out.err)))
	} else {
		span.SetAttributes(attribute.Bool("lookup.found", out.result.Found))
	}
	return out.result, out.err
}

// complete records the terminal state and frees the slot. The slot is
// released even if recording panics.
func (s *Scheduler) complete(e entry, startedAt time.Time, result lookup.Result, execErr error) {
	s.mu.Lock()
	defer func() {
		s.active--
		s.driveLocked()
		s.mu.Unlock()
	}()

	finishedAt := s.clock.Now()
	dur := finishedAt.Sub(startedAt)
	log := s.logger.With(zap.String("job_id", e.jobID), zap.String("key", e.key), zap.Duration("duration", dur))

	if execErr != nil {
		jobErr := lookup.AsJobError(execErr)
		if _, err := s.store.Update(context.Background(), e.jobID, lookup.Failed(jobErr, finishedAt)); err != nil {
			log.Warn("could not record failure", zap.Error(err))
		}
		metrics.ObserveJob(string(lookup.StateFailed), string(jobErr.Kind))
		metrics.ObserveExecution(string(lookup.StateFailed), dur)
		s.events.Emit(progress.Event{
			JobID: e.jobID, TS: finishedAt, Stage: progress.StageJobError, Key: e.key,
			Dur: dur, Kind: jobErr.Kind, Note: jobErr.Message,
		})
		log.Warn("job failed", zap.String("error_kind", string(jobErr.Kind)), zap.Error(execErr))
		return
	}

	if result.Key == "" {
		result.Key = e.key
	}
	if _, err := s.store.Update(context.Background(), e.jobID, lookup.Completed(result, finishedAt)); err != nil {
		log.Warn("could not record result", zap.Error(err))
	}
	if s.cache != nil {
		s.cache.Store(e.key, result)
	}
	metrics.ObserveJob(string(lookup.StateCompleted), "")
	metrics.ObserveExecution(string(lookup.StateCompleted), dur)
	res := result.Clone()
	s.events.Emit(progress.Event{JobID: e.jobID, TS: finishedAt, Stage: progress.StageJobDone, Key: e.key, Dur: dur, Result: &res})
	log.Info("job completed", zap.Bool("found", result.Found), zap.Int("records", result.RecordCount()))
}

// QueuePosition returns the 1-based position of a queued job.
func (s *Scheduler) QueuePosition(jobID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.queue {
		if e.jobID == jobID {
			return i + 1, true
		}
	}
	return 0, false
}

// Stats reports the admission counters.
func (s *Scheduler) Stats() lookup.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lookup.Stats{Active: s.active, Queued: len(s.queue), Ceiling: s.cfg.Concurrency}
}

// Close stops admission, drops queued entries, and waits for running
// executions. If ctx ends first, running executions are canceled and
// recorded as failed before Close returns.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	metrics.SetQueueDepth(0)
	s.mu.Unlock()
	if dropped > 0 {
		s.logger.Warn("dropping queued jobs on shutdown", zap.Int("count", dropped))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.abort()
		return nil
	case <-ctx.Done():
		s.abort()
		<-done
		return fmt.Errorf("drain scheduler: %w", ctx.Err())
	}
}
