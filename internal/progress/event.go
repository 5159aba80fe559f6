package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageJobQueued Stage = "JOB_QUEUED"
	StageJobStart  Stage = "JOB_START"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
	StageJobCached Stage = "JOB_CACHED"
)

// Event captures one job milestone.
type Event struct {
	// JobID is the job's UUIDv7 string.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Key is the normalized request key.
	Key string
	// Dur is the execution latency for terminal events.
	Dur time.Duration
	// Kind classifies JOB_ERROR events.
	Kind lookup.ErrorKind
	// Note carries low-volume context such as the error message.
	Note string
	// Result is attached to JOB_DONE and JOB_CACHED events.
	Result *lookup.Result
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobQueued, StageJobStart:
	case StageJobDone, StageJobCached:
		if e.Result == nil {
			return fmt.Errorf("%s requires a result", e.Stage)
		}
	case StageJobError:
		if e.Kind == "" {
			return errors.New("job error requires a kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job's lifecycle.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError || e.Stage == StageJobCached
}

// Outcome flattens a terminal event. ok is false for non-terminal stages.
func (e Event) Outcome() (lookup.Outcome, bool) {
	if !e.Terminal() {
		return lookup.Outcome{}, false
	}
	out := lookup.Outcome{
		JobID:      e.JobID,
		Key:        e.Key,
		State:      lookup.StateCompleted,
		FromCache:  e.Stage == StageJobCached,
		FinishedAt: e.TS,
		Duration:   e.Dur,
		Result:     e.Result,
	}
	if e.Stage == StageJobError {
		out.State = lookup.StateFailed
		out.ErrorKind = e.Kind
		out.ErrorMessage = e.Note
	}
	if e.Result != nil {
		out.Found = e.Result.Found
		out.RecordCount = e.Result.RecordCount()
	}
	return out, true
}
