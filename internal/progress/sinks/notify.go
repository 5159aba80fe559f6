package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// Notification is the message published when a job reaches a terminal state.
type Notification struct {
	JobID      string           `json:"job_id"`
	Key        string           `json:"key"`
	State      lookup.State     `json:"state"`
	Found      bool             `json:"found"`
	Records    int              `json:"records"`
	ErrorKind  lookup.ErrorKind `json:"error_kind,omitempty"`
	Message    string           `json:"message,omitempty"`
	FromCache  bool             `json:"from_cache,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// NotifySink publishes a Notification per terminal event.
type NotifySink struct {
	publisher lookup.Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifySink builds a sink that publishes to topic.
func NewNotifySink(publisher lookup.Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes every terminal event in batch. Failures are collected so
// one bad publish does not hide the rest.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		out, ok := evt.Outcome()
		if !ok {
			continue
		}
		msg := Notification{
			JobID:      out.JobID,
			Key:        out.Key,
			State:      out.State,
			Found:      out.Found,
			Records:    out.RecordCount,
			ErrorKind:  out.ErrorKind,
			Message:    out.ErrorMessage,
			FromCache:  out.FromCache,
			FinishedAt: out.FinishedAt,
		}
		msgID, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish job %s: %w", out.JobID, err))
			continue
		}
		s.logger.Debug("published completion", zap.String("job_id", out.JobID), zap.String("message_id", msgID))
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
