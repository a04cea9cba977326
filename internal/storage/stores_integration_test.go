package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/floatchat-io/floatchat/internal/config"
	"github.com/floatchat-io/floatchat/internal/ingest"
)

func TestJobStoreLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	datasets := NewDatasetStore(testDB.Connection, testLogger())
	jobs := NewJobStore(testDB.Connection, testLogger())

	datasetID, err := datasets.CreateDataset(ctx, "argo_profiles", "argo_profiles.nc")
	require.NoError(t, err)

	require.NoError(t, datasets.SetRawFilePath(ctx, datasetID, "raw/1/argo_profiles.nc", "deadbeef"))

	rawPath, err := datasets.GetRawFilePath(ctx, datasetID)
	require.NoError(t, err)
	assert.Equal(t, "raw/1/argo_profiles.nc", rawPath)

	job := &ingest.Job{
		ID:               uuid.New(),
		DatasetID:        &datasetID,
		OriginalFilename: "argo_profiles.nc",
		RawFilePath:      "raw/1/argo_profiles.nc",
	}
	require.NoError(t, jobs.CreateJob(ctx, job))

	loaded, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPending, loaded.Status)

	// pending -> running -> succeeded
	require.NoError(t, jobs.MarkRunning(ctx, job.ID))
	require.NoError(t, jobs.SetProfilesTotal(ctx, job.ID, 120))
	require.NoError(t, jobs.UpdateProgress(ctx, job.ID, ingest.ProgressCleaned, 60))

	loaded, err = jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusRunning, loaded.Status)
	assert.Equal(t, ingest.ProgressCleaned, loaded.ProgressPct)
	require.NotNil(t, loaded.ProfilesTotal)
	assert.Equal(t, 120, *loaded.ProfilesTotal)
	assert.NotNil(t, loaded.StartedAt)

	require.NoError(t, jobs.MarkSucceeded(ctx, job.ID))

	loaded, err = jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusSucceeded, loaded.Status)
	assert.Equal(t, ingest.ProgressDone, loaded.ProgressPct)
	assert.NotNil(t, loaded.CompletedAt)

	// Terminal jobs cannot be restarted or retried.
	err = jobs.MarkRunning(ctx, job.ID)
	assert.ErrorIs(t, err, ingest.ErrInvalidTransition)

	_, err = jobs.ResetForRetry(ctx, job.ID)
	assert.ErrorIs(t, err, ingest.ErrJobNotRetryable)
}

func TestJobStoreRetryAndSweep_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	jobs := NewJobStore(testDB.Connection, testLogger())

	job := &ingest.Job{ID: uuid.New(), OriginalFilename: "broken.nc"}
	require.NoError(t, jobs.CreateJob(ctx, job))
	require.NoError(t, jobs.MarkRunning(ctx, job.ID))

	stageErrors := []ingest.StageError{{Stage: "parse", Error: "missing variable TEMP"}}
	require.NoError(t, jobs.MarkFailed(ctx, job.ID, "missing variable TEMP", stageErrors))

	loaded, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, loaded.Status)
	assert.Equal(t, "missing variable TEMP", loaded.ErrorLog)
	require.Len(t, loaded.Errors, 1)
	assert.Equal(t, "parse", loaded.Errors[0].Stage)

	count, err := jobs.IncrementRetry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reset, err := jobs.ResetForRetry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPending, reset.Status)
	assert.Empty(t, reset.ErrorLog)
	assert.Empty(t, reset.Errors)
	assert.Nil(t, reset.CompletedAt)
	assert.Equal(t, 1, reset.RetryCount, "retry count survives the reset")

	// Zero staleness thresholds sweep everything non-terminal.
	swept, err := jobs.SweepStale(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	loaded, err = jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, loaded.Status)

	listed, total, err := jobs.ListJobs(ctx, ingest.StatusFailed, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, listed, 1)
	assert.Equal(t, job.ID, listed[0].ID)
}

func TestChatStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	chat := NewChatStore(testDB.Connection, testLogger())

	session, err := chat.CreateSession(ctx, "researcher-1", "Equator floats")
	require.NoError(t, err)

	userMsg := &ChatMessage{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   "show me floats near the equator",
		NLQuery:   "show me floats near the equator",
		Status:    MessageCompleted,
	}
	require.NoError(t, chat.AppendMessage(ctx, userMsg))

	pendingMsg := &ChatMessage{
		ID:           uuid.New(),
		SessionID:    session.ID,
		Role:         RoleAssistant,
		Content:      "This query may return a large number of rows. Confirm to run it.",
		NLQuery:      "show me floats near the equator",
		GeneratedSQL: "SELECT * FROM profiles",
		Status:       MessagePendingConfirmation,
	}
	require.NoError(t, chat.AppendMessage(ctx, pendingMsg))

	messages, err := chat.ListMessages(ctx, session.ID, nil, 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, userMsg.ID, messages[0].ID, "messages list oldest first")

	pending, err := chat.GetPendingConfirmation(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, pendingMsg.ID, pending.ID)
	assert.Equal(t, "SELECT * FROM profiles", pending.GeneratedSQL)

	require.NoError(t, chat.SetMessageStatus(ctx, pendingMsg.ID, MessageConfirmed))

	_, err = chat.GetPendingConfirmation(ctx, session.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	require.NoError(t, chat.RenameSession(ctx, session.ID, "Confirmed run"))

	renamed, err := chat.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Confirmed run", renamed.Name)

	require.NoError(t, chat.DeleteSession(ctx, session.ID))

	_, err = chat.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegionStoreSeedAndLookup_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	regions := NewRegionStore(testDB.Connection, testLogger())

	inserted, err := regions.SeedRegions(ctx, "../../configs/ocean_regions.yaml")
	require.NoError(t, err)
	assert.Positive(t, inserted)

	// Reseeding is a no-op for existing regions.
	again, err := regions.SeedRegions(ctx, "../../configs/ocean_regions.yaml")
	require.NoError(t, err)
	assert.Zero(t, again)

	// 15N 65E sits inside the Arabian Sea shell.
	name, err := regions.RegionNameForPoint(ctx, 15, 65)
	require.NoError(t, err)
	assert.Equal(t, "Arabian Sea", name)

	// Mid-continent points resolve to nothing.
	name, err = regions.RegionNameForPoint(ctx, 48, 90)
	require.NoError(t, err)
	assert.Empty(t, name)
}
