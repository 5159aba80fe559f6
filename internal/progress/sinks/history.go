package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// HistorySink records every terminal outcome through an OutcomeRecorder.
type HistorySink struct {
	recorder lookup.OutcomeRecorder
}

// NewHistorySink builds a HistorySink.
func NewHistorySink(recorder lookup.OutcomeRecorder) *HistorySink {
	return &HistorySink{recorder: recorder}
}

// Consume writes outcomes in order and stops at the first failure.
func (s *HistorySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	for _, evt := range batch {
		out, ok := evt.Outcome()
		if !ok {
			continue
		}
		if err := s.recorder.RecordOutcome(ctx, out); err != nil {
			return fmt.Errorf("record outcome %s: %w", out.JobID, err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
