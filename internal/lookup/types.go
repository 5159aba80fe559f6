// Package lookup defines the job, result, and collaborator types shared across subsystems.
package lookup

import (
	"maps"
	"time"
)

// State represents the lifecycle state of a lookup job.
type State string

// Job states. Completed and Failed are terminal.
const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the state has no outgoing transition.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// Record is one extracted row, keyed by column or label.
type Record map[string]string

// Result is the structured outcome of a successful execution. Found=false is
// the "entity does not exist upstream" outcome, which is still a success.
type Result struct {
	Key       string              `json:"key"`
	Found     bool                `json:"found"`
	Records   []Record            `json:"records,omitempty"`
	Sections  map[string][]Record `json:"sections,omitempty"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Clone returns a deep copy so callers never share record maps.
func (r Result) Clone() Result {
	cp := r
	cp.Records = cloneRecords(r.Records)
	if r.Sections != nil {
		cp.Sections = make(map[string][]Record, len(r.Sections))
		for name, recs := range r.Sections {
			cp.Sections[name] = cloneRecords(recs)
		}
	}
	return cp
}

// RecordCount counts records across the main table and every section.
func (r Result) RecordCount() int {
	n := len(r.Records)
	for _, recs := range r.Sections {
		n += len(recs)
	}
	return n
}

func cloneRecords(src []Record) []Record {
	if src == nil {
		return nil
	}
	out := make([]Record, len(src))
	for i, rec := range src {
		out[i] = maps.Clone(rec)
	}
	return out
}

// JobError is the failure payload stored on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is one admitted unit of work.
type Job struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	State      State      `json:"state"`
	Result     *Result    `json:"result,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
	FromCache  bool       `json:"from_cache,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone deep-copies the job, including its result and timestamps.
func (j Job) Clone() Job {
	cp := j
	if j.Result != nil {
		res := j.Result.Clone()
		cp.Result = &res
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.FinishedAt = cloneTime(j.FinishedAt)
	return cp
}

// JobUpdate carries a partial change; nil fields are left untouched.
type JobUpdate struct {
	State      *State
	Result     *Result
	Error      *JobError
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Processing builds the Queued -> Processing update.
func Processing(at time.Time) JobUpdate {
	state := StateProcessing
	return JobUpdate{State: &state, StartedAt: &at}
}

// Completed builds the Processing -> Completed update.
func Completed(result Result, at time.Time) JobUpdate {
	state := StateCompleted
	res := result.Clone()
	return JobUpdate{State: &state, Result: &res, FinishedAt: &at}
}

// Failed builds the Processing -> Failed update.
func Failed(jobErr JobError, at time.Time) JobUpdate {
	state := StateFailed
	return JobUpdate{State: &state, Error: &jobErr, FinishedAt: &at}
}

// Outcome is the flattened terminal record handed to history sinks.
type Outcome struct {
	JobID        string
	Key          string
	State        State
	Found        bool
	RecordCount  int
	ErrorKind    ErrorKind
	ErrorMessage string
	FromCache    bool
	FinishedAt   time.Time
	Duration     time.Duration
	Result       *Result
}

// Stats is a point-in-time view of the scheduler's admission state.
type Stats struct {
	Active  int `json:"active"`
	Queued  int `json:"queued"`
	Ceiling int `json:"ceiling"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
