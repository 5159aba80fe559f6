// Package memory provides in-process implementations of the job store and blob store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

// JobStore keeps job records in a map guarded by a RWMutex. Records older
// than the TTL are removed by Sweep.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]lookup.Job
	ttl  time.Duration
}

// NewJobStore constructs a JobStore. ttl <= 0 disables eviction.
func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]lookup.Job),
		ttl:  ttl,
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job lookup.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, lookup.ErrJobExists)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get fetches a copy of the job.
func (s *JobStore) Get(_ context.Context, jobID string) (lookup.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return lookup.Job{}, lookup.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update merges the non-nil fields of update into the job and returns the
// new record. Terminal jobs are immutable.
func (s *JobStore) Update(_ context.Context, jobID string, update lookup.JobUpdate) (lookup.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return lookup.Job{}, lookup.ErrJobNotFound
	}
	if job.State.Terminal() {
		return lookup.Job{}, fmt.Errorf("update job %s: %w", jobID, lookup.ErrTerminalJob)
	}
	if update.State != nil && *update.State != job.State {
		if !lookup.CanTransition(job.State, *update.State) {
			return lookup.Job{}, fmt.Errorf("update job %s %s -> %s: %w",
				jobID, job.State, *update.State, lookup.ErrInvalidTransition)
		}
		job.State = *update.State
	}
	if update.Result != nil {
		res := update.Result.Clone()
		job.Result = &res
	}
	if update.Error != nil {
		jobErr := *update.Error
		job.Error = &jobErr
	}
	if update.StartedAt != nil {
		ts := *update.StartedAt
		job.StartedAt = &ts
	}
	if update.FinishedAt != nil {
		ts := *update.FinishedAt
		job.FinishedAt = &ts
	}
	s.jobs[jobID] = job
	return job.Clone(), nil
}

// Sweep removes jobs created more than ttl before now and returns how many
// were dropped.
func (s *JobStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of tracked jobs.
func (s *JobStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// CountByState tallies tracked jobs per state.
func (s *JobStore) CountByState() map[lookup.State]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[lookup.State]int, 4)
	for _, job := range s.jobs {
		out[job.State]++
	}
	return out
}
