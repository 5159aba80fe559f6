package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("key", evt.Key),
			zap.Time("ts", evt.TS),
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("duration", evt.Dur))
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("error_kind", string(evt.Kind)))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Result != nil {
			fields = append(fields, zap.Bool("found", evt.Result.Found), zap.Int("records", evt.Result.RecordCount()))
		}
		s.logger.Info("job progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
