package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// ArchiveSink writes freshly scraped results to blob storage, addressed by
// the SHA-256 of their JSON encoding: <prefix>/<key>/<digest>.json.
// Cache hits are skipped since their payload was archived when scraped.
type ArchiveSink struct {
	blobs  lookup.BlobStore
	hasher lookup.Hasher
	prefix string
	logger *zap.Logger
}

// NewArchiveSink builds an ArchiveSink.
func NewArchiveSink(blobs lookup.BlobStore, hasher lookup.Hasher, prefix string, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{blobs: blobs, hasher: hasher, prefix: prefix, logger: logger}
}

// Consume archives every JOB_DONE result in batch.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.blobs == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageJobDone || evt.Result == nil {
			continue
		}
		uri, err := s.archive(ctx, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive job %s: %w", evt.JobID, err))
			continue
		}
		s.logger.Debug("archived result", zap.String("job_id", evt.JobID), zap.String("uri", uri))
	}
	return errors.Join(errs...)
}

func (s *ArchiveSink) archive(ctx context.Context, evt progress.Event) (string, error) {
	payload, err := json.Marshal(evt.Result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	digest, err := s.hasher.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("hash result: %w", err)
	}
	objectPath := path.Join(s.prefix, evt.Key, digest+".json")
	uri, err := s.blobs.PutObject(ctx, objectPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

// Close implements progress.Sink.
func (s *ArchiveSink) Close(context.Context) error {
	return nil
}
