package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat-io/floatchat/internal/ingest"
)

func newMockDatasetStore(t *testing.T) (*DatasetStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewDatasetStore(db, testLogger()), mock
}

func TestDatasetStore_ComputeMetadata(t *testing.T) {
	store, mock := newMockDatasetStore(t)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT MIN\(timestamp\), MAX\(timestamp\)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max", "floats", "profiles"}).
			AddRow(start, end, 3, 120))
	mock.ExpectQuery(`ST_ConvexHull`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"bbox"}).
			AddRow("POLYGON((60 -20,70 -20,70 -10,60 -10,60 -20))"))
	mock.ExpectQuery(`bool_or`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"pressure", "temperature", "salinity", "dissolved_oxygen",
			"chlorophyll", "nitrate", "ph", "bbp700", "downwelling_irradiance",
		}).AddRow(true, true, true, false, false, false, false, false, false))

	md, err := store.ComputeMetadata(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, &start, md.DateRangeStart)
	assert.Equal(t, &end, md.DateRangeEnd)
	assert.Equal(t, 3, md.FloatCount)
	assert.Equal(t, 120, md.ProfileCount)
	assert.Contains(t, md.BBoxWKT, "POLYGON")
	assert.Equal(t, []string{"pressure", "temperature", "salinity"}, md.Variables)
}

func TestDatasetStore_ComputeMetadata_EmptyDataset(t *testing.T) {
	store, mock := newMockDatasetStore(t)

	mock.ExpectQuery(`SELECT MIN\(timestamp\), MAX\(timestamp\)`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max", "floats", "profiles"}).
			AddRow(nil, nil, 0, 0))
	mock.ExpectQuery(`ST_ConvexHull`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"bbox"}).AddRow(nil))
	mock.ExpectQuery(`bool_or`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{
			"pressure", "temperature", "salinity", "dissolved_oxygen",
			"chlorophyll", "nitrate", "ph", "bbp700", "downwelling_irradiance",
		}).AddRow(false, false, false, false, false, false, false, false, false))

	md, err := store.ComputeMetadata(context.Background(), 9)
	require.NoError(t, err)

	assert.Nil(t, md.DateRangeStart)
	assert.Empty(t, md.BBoxWKT)
	assert.Empty(t, md.Variables)
}

func TestDatasetStore_UpdateMetadata(t *testing.T) {
	store, mock := newMockDatasetStore(t)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	md := &ingest.DatasetMetadata{
		DateRangeStart: &start,
		FloatCount:     3,
		ProfileCount:   120,
		BBoxWKT:        "POLYGON((60 -20,70 -20,70 -10,60 -10,60 -20))",
		Variables:      []string{"pressure", "temperature"},
	}

	mock.ExpectExec(`UPDATE datasets`).
		WithArgs(int64(7), &start, nil, 3, 120,
			[]byte(`["pressure","temperature"]`),
			"Dataset contains 120 profiles from 3 floats.",
			md.BBoxWKT).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateMetadata(context.Background(), 7, md, "Dataset contains 120 profiles from 3 floats.")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetStore_BumpVersion(t *testing.T) {
	store, mock := newMockDatasetStore(t)

	md := &ingest.DatasetMetadata{FloatCount: 3, ProfileCount: 120}

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE datasets SET dataset_version`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"dataset_version"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO dataset_versions`).
		WithArgs(int64(7), 2, 120, 3, "re-ingested").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.BumpVersion(context.Background(), 7, md, "re-ingested")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetStore_RefreshViews(t *testing.T) {
	store, mock := newMockDatasetStore(t)

	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_float_latest_position`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_dataset_stats`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.RefreshViews(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetStore_RefreshViews_FallsBackToExclusive(t *testing.T) {
	store, mock := newMockDatasetStore(t)

	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_float_latest_position`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// An unpopulated view rejects CONCURRENTLY; the exclusive form must run.
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW CONCURRENTLY mv_dataset_stats`).
		WillReturnError(assert.AnError)
	mock.ExpectExec(`REFRESH MATERIALIZED VIEW mv_dataset_stats`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.RefreshViews(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
