package storage

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat-io/floatchat/internal/ingest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewJobStore(db, testLogger()), mock
}

func jobRows(id uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"job_id", "dataset_id", "original_filename", "raw_file_path", "status",
		"progress_pct", "profiles_total", "profiles_ingested", "retry_count",
		"error_log", "errors", "started_at", "completed_at", "created_at",
	}).AddRow(id, int64(7), "file.nc", "raw/7/file.nc", status,
		0, nil, 0, 0, nil, nil, nil, nil, time.Now())
}

func TestJobStore_CreateJob(t *testing.T) {
	store, mock := newMockJobStore(t)

	job := &ingest.Job{ID: uuid.New(), OriginalFilename: "nodc_D1901393.nc"}

	mock.ExpectExec(`INSERT INTO ingestion_jobs`).
		WithArgs(job.ID, nil, job.OriginalFilename, sqlmock.AnyArg(), ingest.StatusPending, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_GetJob_NotFound(t *testing.T) {
	store, mock := newMockJobStore(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM ingestion_jobs WHERE job_id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetJob(context.Background(), id)
	assert.ErrorIs(t, err, ingest.ErrJobNotFound)
}

func TestJobStore_MarkRunning(t *testing.T) {
	store, mock := newMockJobStore(t)
	id := uuid.New()

	t.Run("pending job transitions", func(t *testing.T) {
		mock.ExpectExec(`UPDATE ingestion_jobs`).
			WithArgs(id, ingest.StatusRunning).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.MarkRunning(context.Background(), id))
	})

	t.Run("terminal job rejected", func(t *testing.T) {
		mock.ExpectExec(`UPDATE ingestion_jobs`).
			WithArgs(id, ingest.StatusRunning).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .+ FROM ingestion_jobs WHERE job_id`).
			WithArgs(id).
			WillReturnRows(jobRows(id, ingest.StatusSucceeded))

		err := store.MarkRunning(context.Background(), id)
		assert.ErrorIs(t, err, ingest.ErrInvalidTransition)
	})
}

func TestJobStore_MarkFailed_RecordsStageErrors(t *testing.T) {
	store, mock := newMockJobStore(t)
	id := uuid.New()

	stageErrors := []ingest.StageError{{Stage: "parse", Error: "missing variable JULD"}}

	mock.ExpectExec(`UPDATE ingestion_jobs`).
		WithArgs(id, "missing variable JULD", []byte(`[{"stage":"parse","error":"missing variable JULD"}]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailed(context.Background(), id, "missing variable JULD", stageErrors)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_ResetForRetry(t *testing.T) {
	store, mock := newMockJobStore(t)
	id := uuid.New()

	t.Run("failed job resets to pending", func(t *testing.T) {
		mock.ExpectExec(`UPDATE ingestion_jobs`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT .+ FROM ingestion_jobs WHERE job_id`).
			WithArgs(id).
			WillReturnRows(jobRows(id, ingest.StatusPending))

		job, err := store.ResetForRetry(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, ingest.StatusPending, job.Status)
	})

	t.Run("running job is not retryable", func(t *testing.T) {
		mock.ExpectExec(`UPDATE ingestion_jobs`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .+ FROM ingestion_jobs WHERE job_id`).
			WithArgs(id).
			WillReturnRows(jobRows(id, ingest.StatusRunning))

		_, err := store.ResetForRetry(context.Background(), id)
		assert.ErrorIs(t, err, ingest.ErrJobNotRetryable)
	})
}

func TestJobStore_IncrementRetry(t *testing.T) {
	store, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE ingestion_jobs SET retry_count`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))

	count, err := store.IncrementRetry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestJobStore_ListJobs_StatusFilter(t *testing.T) {
	store, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ingestion_jobs WHERE status`).
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM ingestion_jobs WHERE status`).
		WithArgs("failed", 20, 0).
		WillReturnRows(jobRows(id, ingest.StatusFailed))

	jobs, total, err := store.ListJobs(context.Background(), "failed", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, ingest.StatusFailed, jobs[0].Status)
}

func TestJobStore_SweepStale(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectExec(`UPDATE ingestion_jobs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := store.SweepStale(context.Background(), 30*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, swept)
}

func TestJobStore_ScanJob_DecodesStageErrors(t *testing.T) {
	store, mock := newMockJobStore(t)
	id := uuid.New()

	rows := sqlmock.NewRows([]string{
		"job_id", "dataset_id", "original_filename", "raw_file_path", "status",
		"progress_pct", "profiles_total", "profiles_ingested", "retry_count",
		"error_log", "errors", "started_at", "completed_at", "created_at",
	}).AddRow(id, nil, "bad.nc", nil, ingest.StatusFailed,
		20, 4, 0, 1, "parse failed",
		[]byte(`[{"stage":"parse","error":"trajectory file"}]`),
		time.Now(), time.Now(), time.Now())

	mock.ExpectQuery(`SELECT .+ FROM ingestion_jobs WHERE job_id`).
		WithArgs(id).
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "parse", job.Errors[0].Stage)
	require.NotNil(t, job.ProfilesTotal)
	assert.Equal(t, 4, *job.ProfilesTotal)
	assert.Equal(t, "parse failed", job.ErrorLog)
}
