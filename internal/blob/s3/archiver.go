package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// DefaultBatchSize is the number of events written per archive object.
const DefaultBatchSize = 5000

const jsonlContentType = "application/x-ndjson"

// EventSource is the slice of domain.EventStore the archiver needs.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiver implements domain.Archiver. It copies old market events to
// JSONL objects and removes them from the primary store only after the upload
// succeeded. Object paths derive from the first event of each batch, so a
// rerun after a failed delete finds the object already present and skips the
// upload.
type EventArchiver struct {
	events    EventSource
	writer    domain.BlobWriter
	reader    domain.BlobReader
	batchSize int
}

// NewArchiver creates an EventArchiver. reader may be nil, in which case
// every batch is uploaded unconditionally.
func NewArchiver(events EventSource, writer domain.BlobWriter, reader domain.BlobReader, batchSize int) *EventArchiver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &EventArchiver{events: events, writer: writer, reader: reader, batchSize: batchSize}
}

// ArchiveEvents moves every event created before the cutoff and returns how
// many were archived.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		events, bound, err := a.nextBatch(ctx, before)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}

		path := ArchivePath(events[0])
		if err := a.upload(ctx, path, events); err != nil {
			return total, err
		}
		if _, err := a.events.DeleteBefore(ctx, bound); err != nil {
			return total, fmt.Errorf("s3blob: prune events before %s: %w", bound.Format(time.RFC3339Nano), err)
		}
		total += int64(len(events))

		if !bound.Before(before) {
			return total, nil
		}
	}
}

// nextBatch returns the oldest events and the exclusive bound that covers
// exactly them, so that DeleteBefore(bound) removes nothing unarchived.
func (a *EventArchiver) nextBatch(ctx context.Context, before time.Time) ([]domain.Event, time.Time, error) {
	events, err := a.events.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("s3blob: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	if len(events) < a.batchSize {
		return events, before, nil
	}

	// A full batch may split a run of equal timestamps. Cut at the last
	// timestamp and leave that run for the next batch.
	bound := events[len(events)-1].CreatedAt
	n := len(events)
	for n > 0 && !events[n-1].CreatedAt.Before(bound) {
		n--
	}
	if n > 0 {
		return events[:n], bound, nil
	}

	// The whole batch shares one timestamp: take the run in full.
	if bound = bound.Add(time.Microsecond); bound.After(before) {
		bound = before
	}
	events, err = a.events.ListBefore(ctx, bound, 0)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("s3blob: list events before %s: %w", bound.Format(time.RFC3339Nano), err)
	}
	return events, bound, nil
}

func (a *EventArchiver) upload(ctx context.Context, path string, events []domain.Event) error {
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	buf, err := marshalJSONL(events)
	if err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", path, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
		return err
	}
	return nil
}

// ArchivePath is the object path for a batch that starts with first:
//
//	events/2026/03/01/<event id>.jsonl
func ArchivePath(first domain.Event) string {
	return fmt.Sprintf("events/%s/%s.jsonl", first.CreatedAt.UTC().Format("2006/01/02"), first.ID)
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*EventArchiver)(nil)
