package ingest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/argo"
)

// JobStore persists ingestion job state. Implemented by storage.JobStore.
type JobStore interface {
	// CreateJob inserts a new pending job.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID. Returns ErrJobNotFound when absent.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListJobs returns jobs ordered by creation time descending, optionally
	// filtered by status, with the unfiltered total for pagination.
	ListJobs(ctx context.Context, statusFilter string, limit, offset int) ([]Job, int, error)

	// MarkRunning transitions a job to running and stamps started_at.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// UpdateProgress records the current progress percentage and the number
	// of profiles written so far.
	UpdateProgress(ctx context.Context, id uuid.UUID, pct, profilesIngested int) error

	// SetProfilesTotal records the profile count discovered during parsing.
	SetProfilesTotal(ctx context.Context, id uuid.UUID, total int) error

	// MarkSucceeded transitions a job to succeeded and stamps completed_at.
	MarkSucceeded(ctx context.Context, id uuid.UUID) error

	// MarkFailed transitions a job to failed, stamps completed_at, and
	// records the error log plus stage-tagged errors.
	MarkFailed(ctx context.Context, id uuid.UUID, errorLog string, stageErrors []StageError) error

	// ResetForRetry returns a failed job to pending with cleared progress,
	// errors, and timestamps. Returns ErrJobNotRetryable for other states.
	ResetForRetry(ctx context.Context, id uuid.UUID) (*Job, error)

	// IncrementRetry bumps the retry counter and returns the new value.
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)

	// SweepStale fails jobs stuck running or pending beyond the given ages
	// and returns how many were swept.
	SweepStale(ctx context.Context, runningOlderThan, pendingOlderThan time.Duration) (int, error)
}

// DatasetStore persists dataset records and their derived metadata.
// Implemented by storage.DatasetStore.
type DatasetStore interface {
	// CreateDataset inserts a dataset for an upload and returns its ID.
	CreateDataset(ctx context.Context, name, sourceFilename string) (int64, error)

	// SetRawFilePath records the object-store location and content hash.
	SetRawFilePath(ctx context.Context, datasetID int64, rawPath, fileHash string) error

	// ComputeMetadata aggregates date range, counts, bbox, and variable
	// presence for a dataset from its written profiles.
	ComputeMetadata(ctx context.Context, datasetID int64) (*DatasetMetadata, error)

	// UpdateMetadata stores computed metadata and the summary text.
	UpdateMetadata(ctx context.Context, datasetID int64, md *DatasetMetadata, summary string) error

	// BumpVersion increments the dataset version and writes an audit row.
	BumpVersion(ctx context.Context, datasetID int64, md *DatasetMetadata, notes string) error

	// RefreshViews refreshes the materialized views after a write.
	RefreshViews(ctx context.Context) error
}

// Writer persists a parsed file into floats/profiles/measurements within a
// single transaction. Implemented by storage.ProfileWriter.
type Writer interface {
	// WriteParseResult upserts all records for a parse result. The progress
	// callback fires after each profile with (written, total).
	WriteParseResult(ctx context.Context, datasetID int64, result *argo.ParseResult, progress func(written, total int)) (WriteStats, error)
}

// ObjectStore stages raw uploads. Implemented by objectstore.Client.
type ObjectStore interface {
	// Upload streams an object to the raw bucket and returns its key.
	Upload(ctx context.Context, key string, body io.Reader) error

	// Download fetches an object into a local temp file and returns its path.
	Download(ctx context.Context, key string) (string, error)

	// Presign returns a time-limited GET URL for the object.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Dispatcher enqueues job messages for the worker. Implemented by the Kafka
// dispatcher in this package.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg JobMessage) error
}

// Summarizer produces the dataset summary text. Implemented by the LLM
// summarizer; a deterministic template is used when it fails.
type Summarizer interface {
	Summarize(ctx context.Context, md *DatasetMetadata) (string, error)
}

// Indexer triggers post-ingest embedding indexing. Implemented by
// search.Indexer. Failures never fail the job.
type Indexer interface {
	IndexDataset(ctx context.Context, datasetID int64) error
	IndexFloats(ctx context.Context, datasetID int64) error
}
