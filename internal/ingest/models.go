// Package ingest defines the ingestion domain: job tracking, the job state
// machine, retry classification, and the file processing pipeline that turns
// uploaded ARGO NetCDF files into database records.
package ingest

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus values for ingestion jobs.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Progress checkpoints reported as a job moves through the pipeline.
// Writing interpolates between ProgressParsed and ProgressWritten.
const (
	ProgressQueued    = 0
	ProgressStaged    = 10
	ProgressValidated = 15
	ProgressParsed    = 20
	ProgressCleaned   = 40
	ProgressWritten   = 80
	ProgressMetadata  = 90
	ProgressDone      = 100
)

// Job kinds carried on dispatch messages.
const (
	KindFile = "file"
	KindZip  = "zip"
)

// Job is one tracked ingestion run.
type Job struct {
	ID               uuid.UUID
	DatasetID        *int64
	OriginalFilename string
	RawFilePath      string
	Status           string
	ProgressPct      int
	ProfilesTotal    *int
	ProfilesIngested int
	RetryCount       int
	ErrorLog         string
	Errors           []StageError
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
}

// StageError records where in the pipeline a job failed.
type StageError struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// JobMessage is the broker payload dispatched for each upload.
type JobMessage struct {
	JobID            uuid.UUID `json:"job_id"`
	DatasetID        int64     `json:"dataset_id"`
	FilePath         string    `json:"file_path"`
	OriginalFilename string    `json:"original_filename"`
	Kind             string    `json:"kind"`
	Attempt          int       `json:"attempt"`
}

// Dataset is the record created per ingested file.
type Dataset struct {
	ID             int64
	Name           string
	SourceFilename string
	RawFilePath    string
	FileHash       string
	DatasetVersion int
	IsActive       bool
	CreatedAt      time.Time
}

// DatasetMetadata is the aggregate computed after a successful write.
type DatasetMetadata struct {
	DateRangeStart *time.Time
	DateRangeEnd   *time.Time
	FloatCount     int
	ProfileCount   int
	BBoxWKT        string
	Variables      []string
}

// WriteStats summarises one writer pass.
type WriteStats struct {
	ProfilesWritten     int
	MeasurementsWritten int
	FloatsUpserted      int
}
