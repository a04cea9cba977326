package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/floatchat-io/floatchat/internal/ingest"
)

// Compile-time check that DatasetStore satisfies the ingestion domain interface.
var _ ingest.DatasetStore = (*DatasetStore)(nil)

// ErrDatasetNotFound is returned when a dataset ID does not exist.
var ErrDatasetNotFound = errors.New("dataset not found")

// DatasetStore persists dataset records and their derived metadata.
type DatasetStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDatasetStore creates a DatasetStore on an established connection.
func NewDatasetStore(db *sql.DB, logger *slog.Logger) *DatasetStore {
	return &DatasetStore{
		db:     db,
		logger: logger.With("component", "dataset_store"),
	}
}

// CreateDataset inserts a dataset for an upload and returns its ID.
func (s *DatasetStore) CreateDataset(ctx context.Context, name, sourceFilename string) (int64, error) {
	var id int64

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO datasets (name, source_filename, is_active, dataset_version)
		VALUES ($1, $2, TRUE, 1)
		RETURNING dataset_id`,
		name, sourceFilename,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create dataset: %w", err)
	}

	return id, nil
}

// SetRawFilePath records the object-store location and content hash.
func (s *DatasetStore) SetRawFilePath(ctx context.Context, datasetID int64, rawPath, fileHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE datasets SET raw_file_path = $2, file_hash = $3 WHERE dataset_id = $1`,
		datasetID, rawPath, nullableStr(fileHash),
	)
	if err != nil {
		return fmt.Errorf("failed to set raw file path: %w", err)
	}

	return nil
}

// GetRawFilePath returns the object-store key for a dataset's raw file.
func (s *DatasetStore) GetRawFilePath(ctx context.Context, datasetID int64) (string, error) {
	var rawPath sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT raw_file_path FROM datasets WHERE dataset_id = $1`, datasetID,
	).Scan(&rawPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get raw file path: %w", err)
	}

	return rawPath.String, nil
}

// ComputeMetadata aggregates date range, counts, bbox, and variable presence
// for a dataset from its written profiles and measurements.
func (s *DatasetStore) ComputeMetadata(ctx context.Context, datasetID int64) (*ingest.DatasetMetadata, error) {
	md := &ingest.DatasetMetadata{}

	var (
		start      sql.NullTime
		end        sql.NullTime
		floatCount sql.NullInt64
		profCount  sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(timestamp), MAX(timestamp), COUNT(DISTINCT float_id), COUNT(*)
		FROM profiles
		WHERE dataset_id = $1`,
		datasetID,
	).Scan(&start, &end, &floatCount, &profCount)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dataset aggregates: %w", err)
	}

	if start.Valid {
		md.DateRangeStart = &start.Time
	}
	if end.Valid {
		md.DateRangeEnd = &end.Time
	}
	md.FloatCount = int(floatCount.Int64)
	md.ProfileCount = int(profCount.Int64)

	// Convex hull of all valid positions as the dataset bounding geometry.
	var bbox sql.NullString

	err = s.db.QueryRowContext(ctx, `
		SELECT ST_AsText(ST_ConvexHull(ST_Collect(geom::geometry)))
		FROM profiles
		WHERE dataset_id = $1 AND geom IS NOT NULL`,
		datasetID,
	).Scan(&bbox)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dataset bbox: %w", err)
	}
	md.BBoxWKT = bbox.String

	variables, err := s.computeVariablePresence(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	md.Variables = variables

	return md, nil
}

// variableColumns maps measurement columns to the names reported in
// variable_list, in presentation order.
var variableColumns = []struct {
	column string
	name   string
}{
	{"pressure", "pressure"},
	{"temperature", "temperature"},
	{"salinity", "salinity"},
	{"dissolved_oxygen", "dissolved_oxygen"},
	{"chlorophyll", "chlorophyll"},
	{"nitrate", "nitrate"},
	{"ph", "ph"},
	{"bbp700", "bbp700"},
	{"downwelling_irradiance", "downwelling_irradiance"},
}

func (s *DatasetStore) computeVariablePresence(ctx context.Context, datasetID int64) ([]string, error) {
	query := `SELECT `
	for i, vc := range variableColumns {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("COALESCE(bool_or(m.%s IS NOT NULL), FALSE)", vc.column)
	}
	query += `
		FROM measurements m
		JOIN profiles p ON p.profile_id = m.profile_id
		WHERE p.dataset_id = $1`

	flags := make([]bool, len(variableColumns))
	dest := make([]any, len(variableColumns))
	for i := range flags {
		dest[i] = &flags[i]
	}

	if err := s.db.QueryRowContext(ctx, query, datasetID).Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to compute variable presence: %w", err)
	}

	var variables []string
	for i, vc := range variableColumns {
		if flags[i] {
			variables = append(variables, vc.name)
		}
	}

	return variables, nil
}

// UpdateMetadata stores computed metadata and the summary text.
func (s *DatasetStore) UpdateMetadata(ctx context.Context, datasetID int64, md *ingest.DatasetMetadata, summary string) error {
	variableJSON, err := json.Marshal(md.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode variable list: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE datasets
		SET date_range_start = $2,
		    date_range_end = $3,
		    float_count = $4,
		    profile_count = $5,
		    variable_list = $6,
		    summary_text = $7,
		    bbox = CASE WHEN $8 <> '' THEN ST_GeogFromText($8) ELSE bbox END
		WHERE dataset_id = $1`,
		datasetID, md.DateRangeStart, md.DateRangeEnd,
		md.FloatCount, md.ProfileCount, variableJSON, summary, md.BBoxWKT,
	)
	if err != nil {
		return fmt.Errorf("failed to update dataset metadata: %w", err)
	}

	s.logger.Info("dataset metadata updated",
		"dataset_id", datasetID,
		"profiles", md.ProfileCount,
		"floats", md.FloatCount,
	)

	return nil
}

// BumpVersion increments the dataset version and writes an audit row.
func (s *DatasetStore) BumpVersion(ctx context.Context, datasetID int64, md *ingest.DatasetMetadata, notes string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin version transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int

	err = tx.QueryRowContext(ctx, `
		UPDATE datasets SET dataset_version = dataset_version + 1
		WHERE dataset_id = $1
		RETURNING dataset_version`,
		datasetID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return fmt.Errorf("failed to bump dataset version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_versions (dataset_id, version_number, ingestion_date, profile_count, float_count, notes)
		VALUES ($1, $2, NOW(), $3, $4, $5)`,
		datasetID, version, md.ProfileCount, md.FloatCount, notes,
	)
	if err != nil {
		return fmt.Errorf("failed to record dataset version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version transaction: %w", err)
	}

	return nil
}

// RefreshViews refreshes the materialized views after a write. Concurrent
// refresh keeps the views readable while they rebuild; it requires the view's
// unique index and a previously populated view, so on error the exclusive
// form runs as a fallback.
func (s *DatasetStore) RefreshViews(ctx context.Context) error {
	for _, view := range []string{"mv_float_latest_position", "mv_dataset_stats"} {
		_, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY `+view)
		if err == nil {
			continue
		}

		s.logger.Warn("concurrent view refresh failed, retrying exclusively",
			"view", view, "error", err.Error())

		if _, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW `+view); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", view, err)
		}
	}

	return nil
}

// DatasetSummary is one row of metadata used to build chat suggestions.
type DatasetSummary struct {
	DatasetID      int64
	Name           string
	FloatCount     int
	ProfileCount   int
	DateRangeStart string
	DateRangeEnd   string
	Variables      []string
}

// ListSummaries returns metadata for active datasets, newest first.
func (s *DatasetStore) ListSummaries(ctx context.Context) ([]DatasetSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_id, COALESCE(name, ''), COALESCE(float_count, 0), COALESCE(profile_count, 0),
		       COALESCE(to_char(date_range_start, 'YYYY-MM-DD'), ''),
		       COALESCE(to_char(date_range_end, 'YYYY-MM-DD'), ''),
		       COALESCE(variable_list, '[]'::jsonb)
		FROM datasets
		WHERE is_active = TRUE
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset summaries: %w", err)
	}
	defer rows.Close()

	var summaries []DatasetSummary
	for rows.Next() {
		var (
			s2       DatasetSummary
			varsJSON []byte
		)

		if err := rows.Scan(&s2.DatasetID, &s2.Name, &s2.FloatCount, &s2.ProfileCount,
			&s2.DateRangeStart, &s2.DateRangeEnd, &varsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan dataset summary: %w", err)
		}

		if err := json.Unmarshal(varsJSON, &s2.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode variable list: %w", err)
		}

		summaries = append(summaries, s2)
	}

	return summaries, rows.Err()
}
