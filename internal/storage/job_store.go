package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/ingest"
)

// Compile-time check that JobStore satisfies the ingestion domain interface.
var _ ingest.JobStore = (*JobStore)(nil)

// JobStore persists ingestion job state in PostgreSQL.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobStore creates a JobStore on an established connection.
func NewJobStore(db *sql.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger.With("component", "job_store"),
	}
}

const jobColumns = `job_id, dataset_id, original_filename, raw_file_path, status,
	progress_pct, profiles_total, profiles_ingested, retry_count,
	error_log, errors, started_at, completed_at, created_at`

// CreateJob inserts a new pending job.
func (s *JobStore) CreateJob(ctx context.Context, job *ingest.Job) error {
	if job.Status == "" {
		job.Status = ingest.StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (job_id, dataset_id, original_filename, raw_file_path, status, progress_pct)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.DatasetID, job.OriginalFilename, nullableStr(job.RawFilePath), job.Status, job.ProgressPct,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("ingestion job created", "job_id", job.ID, "filename", job.OriginalFilename)

	return nil
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*ingest.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE job_id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ingest.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobs returns jobs ordered by creation time descending, optionally
// filtered by status, plus the matching total for pagination.
func (s *JobStore) ListJobs(ctx context.Context, statusFilter string, limit, offset int) ([]ingest.Job, int, error) {
	var total int

	countQuery := `SELECT COUNT(*) FROM ingestion_jobs`
	listQuery := `SELECT ` + jobColumns + ` FROM ingestion_jobs`

	args := []any{}
	if statusFilter != "" {
		countQuery += ` WHERE status = $1`
		listQuery += ` WHERE status = $1`
		args = append(args, statusFilter)
	}

	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ingest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// MarkRunning transitions a job to running and stamps started_at.
func (s *JobStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, ingest.StatusRunning, `
		UPDATE ingestion_jobs
		SET status = $2, started_at = NOW()
		WHERE job_id = $1 AND status = 'pending'`)
}

// MarkSucceeded transitions a job to succeeded and stamps completed_at.
func (s *JobStore) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, ingest.StatusSucceeded, `
		UPDATE ingestion_jobs
		SET status = $2, progress_pct = 100, completed_at = NOW()
		WHERE job_id = $1 AND status = 'running'`)
}

func (s *JobStore) transition(ctx context.Context, id uuid.UUID, to, query string) error {
	result, err := s.db.ExecContext(ctx, query, id, to)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", to, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}

	if affected == 0 {
		// Either the job does not exist or it is in a state that cannot
		// reach the target; distinguish for the caller.
		current, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}

		return ingest.ValidateStateTransition(current.Status, to)
	}

	return nil
}

// MarkFailed transitions a job to failed from any non-terminal state and
// records the error log plus stage-tagged errors.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, errorLog string, stageErrors []ingest.StageError) error {
	errorsJSON, err := json.Marshal(stageErrors)
	if err != nil {
		return fmt.Errorf("failed to encode stage errors: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'failed', error_log = $2, errors = $3, completed_at = NOW()
		WHERE job_id = $1 AND status IN ('pending', 'running')`,
		id, errorLog, errorsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check failure result: %w", err)
	}

	if affected == 0 {
		current, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}

		return ingest.ValidateStateTransition(current.Status, ingest.StatusFailed)
	}

	s.logger.Warn("ingestion job failed", "job_id", id, "error", errorLog)

	return nil
}

// UpdateProgress records the current progress percentage and profiles written.
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, pct, profilesIngested int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET progress_pct = $2, profiles_ingested = $3
		WHERE job_id = $1`,
		id, pct, profilesIngested,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	return nil
}

// SetProfilesTotal records the profile count discovered during parsing.
func (s *JobStore) SetProfilesTotal(ctx context.Context, id uuid.UUID, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET profiles_total = $2 WHERE job_id = $1`,
		id, total,
	)
	if err != nil {
		return fmt.Errorf("failed to set profiles total: %w", err)
	}

	return nil
}

// ResetForRetry returns a failed job to pending with cleared progress,
// errors, and timestamps, then returns the refreshed record.
func (s *JobStore) ResetForRetry(ctx context.Context, id uuid.UUID) (*ingest.Job, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'pending', progress_pct = 0, profiles_ingested = 0,
		    error_log = NULL, errors = NULL, started_at = NULL, completed_at = NULL
		WHERE job_id = $1 AND status = 'failed'`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reset job for retry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check retry reset result: %w", err)
	}

	if affected == 0 {
		current, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}

		return nil, fmt.Errorf("%w: current status %s", ingest.ErrJobNotRetryable, current.Status)
	}

	return s.GetJob(ctx, id)
}

// IncrementRetry bumps the retry counter and returns the new value.
func (s *JobStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx, `
		UPDATE ingestion_jobs SET retry_count = retry_count + 1
		WHERE job_id = $1
		RETURNING retry_count`,
		id,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ingest.ErrJobNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	return count, nil
}

// SweepStale fails jobs stuck running or pending beyond the given ages.
func (s *JobStore) SweepStale(ctx context.Context, runningOlderThan, pendingOlderThan time.Duration) (int, error) {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'failed',
		    error_log = 'Job exceeded maximum runtime and was marked stale',
		    completed_at = NOW()
		WHERE (status = 'running' AND started_at < $1)
		   OR (status = 'pending' AND created_at < $2)`,
		now.Add(-runningOlderThan), now.Add(-pendingOlderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept jobs: %w", err)
	}

	if affected > 0 {
		s.logger.Warn("stale ingestion jobs swept", "count", affected)
	}

	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*ingest.Job, error) {
	var (
		job         ingest.Job
		datasetID   sql.NullInt64
		filename    sql.NullString
		rawPath     sql.NullString
		total       sql.NullInt64
		errorLog    sql.NullString
		errorsJSON  []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID, &datasetID, &filename, &rawPath, &job.Status,
		&job.ProgressPct, &total, &job.ProfilesIngested, &job.RetryCount,
		&errorLog, &errorsJSON, &startedAt, &completedAt, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if datasetID.Valid {
		job.DatasetID = &datasetID.Int64
	}
	job.OriginalFilename = filename.String
	job.RawFilePath = rawPath.String
	if total.Valid {
		t := int(total.Int64)
		job.ProfilesTotal = &t
	}
	job.ErrorLog = errorLog.String
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode stage errors: %w", err)
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

func nullableStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
