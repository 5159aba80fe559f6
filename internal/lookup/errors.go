package lookup

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

// Error kinds surfaced on failed jobs and API errors.
const (
	KindValidation          ErrorKind = "validation_error"
	KindExecutionTimeout    ErrorKind = "execution_timeout"
	KindUpstreamFailure     ErrorKind = "upstream_failure"
	KindResourceCreation    ErrorKind = "resource_creation_failure"
	KindNavigationTimeout   ErrorKind = "navigation_timeout"
	KindExtraction          ErrorKind = "extraction_error"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
)

var (
	// ErrJobNotFound is returned for unknown or evicted job identifiers.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job whose ID is already tracked.
	ErrJobExists = errors.New("job already exists")
	// ErrTerminalJob is returned when updating a job that already finished.
	ErrTerminalJob = errors.New("job already terminal")
	// ErrInvalidTransition is returned for state changes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidKey is returned when a request key fails normalization.
	ErrInvalidKey = errors.New("invalid request key")
)

// ExecError tags an execution failure with its kind.
type ExecError struct {
	Kind ErrorKind
	Err  error
}

// NewExecError wraps err with kind.
func NewExecError(kind ErrorKind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &ExecError{Kind: kind, Err: err}
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Untagged deadline errors count as execution
// timeouts; everything else untagged is an upstream failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, ErrInvalidKey) {
		return KindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindExecutionTimeout
	}
	return KindUpstreamFailure
}

// AsJobError converts err into the payload stored on a failed job.
func AsJobError(err error) JobError {
	return JobError{Kind: KindOf(err), Message: err.Error()}
}
