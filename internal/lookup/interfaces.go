package lookup

import (
	"context"
	"io"
	"time"
)

// JobStore tracks job records by identifier.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) (Job, error)
}

// ResultCache short-circuits repeated identical requests. Implementations
// must never block on the scheduler or the browser pool.
type ResultCache interface {
	Lookup(key string) (Result, bool)
	Store(key string, result Result)
}

// Executor performs the slow, site-specific work for one request key.
type Executor interface {
	Execute(ctx context.Context, key string) (Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, key string) (Result, error)

// Execute calls f(ctx, key).
func (f ExecutorFunc) Execute(ctx context.Context, key string) (Result, error) {
	return f(ctx, key)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OutcomeRecorder persists terminal job outcomes for auditing.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
