package query

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockExecutor(t *testing.T, maxRows int) (*Executor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	executor := NewExecutor(db, testLogger())
	executor.maxRows = maxRows

	return executor, mock
}

func TestHasExplicitLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"plain limit", "SELECT * FROM profiles LIMIT 100", true},
		{"limit with offset", "SELECT * FROM profiles LIMIT 100 OFFSET 50", true},
		{"limit with semicolon", "SELECT * FROM profiles LIMIT 10;", true},
		{"no limit", "SELECT * FROM profiles", false},
		{"limit only in subquery", "SELECT * FROM (SELECT * FROM profiles LIMIT 5) q WHERE q.latitude > 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasExplicitLimit(tt.sql))
		})
	}
}

func TestExecutor_WrapsUnlimitedQueries(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery(`SELECT \* FROM \(SELECT platform_number FROM profiles\) AS _q LIMIT 1001`).
		WillReturnRows(sqlmock.NewRows([]string{"platform_number"}).
			AddRow("1901393").AddRow("2902746"))

	result, err := executor.Execute(context.Background(), "SELECT platform_number FROM profiles")
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, []string{"platform_number"}, result.Columns)
	assert.Equal(t, "1901393", result.Rows[0][0])
}

func TestExecutor_TruncatesAtCap(t *testing.T) {
	executor, mock := newMockExecutor(t, 2)

	rows := sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3)
	mock.ExpectQuery(`SELECT \* FROM`).WillReturnRows(rows)

	result, err := executor.Execute(context.Background(), "SELECT n FROM measurements")
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	assert.True(t, result.Truncated)
}

func TestExecutor_RespectsExplicitLimit(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	// Query runs as-is; no wrapping subquery.
	mock.ExpectQuery(`^SELECT n FROM measurements LIMIT 5$`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	result, err := executor.Execute(context.Background(), "SELECT n FROM measurements LIMIT 5")
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_ConvertsByteColumns(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery(`SELECT \* FROM`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("Indian Ocean")))

	result, err := executor.Execute(context.Background(), "SELECT region_name FROM ocean_regions")
	require.NoError(t, err)
	assert.Equal(t, "Indian Ocean", result.Rows[0][0])
}

func TestExecutor_EstimateRows(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	t.Run("returns planner estimate", func(t *testing.T) {
		plan := `[{"Plan": {"Node Type": "Seq Scan", "Plan Rows": 54321}}]`
		mock.ExpectQuery(`EXPLAIN \(FORMAT JSON\)`).
			WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow(plan))

		estimate := executor.EstimateRows(context.Background(), "SELECT * FROM measurements")
		require.NotNil(t, estimate)
		assert.Equal(t, int64(54321), *estimate)
	})

	t.Run("explain failure yields nil", func(t *testing.T) {
		mock.ExpectQuery(`EXPLAIN \(FORMAT JSON\)`).
			WillReturnError(assert.AnError)

		assert.Nil(t, executor.EstimateRows(context.Background(), "SELECT * FROM measurements"))
	})

	t.Run("malformed plan yields nil", func(t *testing.T) {
		mock.ExpectQuery(`EXPLAIN \(FORMAT JSON\)`).
			WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow("not json"))

		assert.Nil(t, executor.EstimateRows(context.Background(), "SELECT * FROM measurements"))
	})
}
