package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Embedding statuses.
const (
	EmbeddingStatusIndexed = "indexed"
	EmbeddingStatusFailed  = "embedding_failed"
)

// EmbeddingStore persists dataset and float embedding vectors for the
// metadata search indexer. Vectors are stored as jsonb float arrays.
type EmbeddingStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEmbeddingStore creates an EmbeddingStore on an established connection.
func NewEmbeddingStore(db *sql.DB, logger *slog.Logger) *EmbeddingStore {
	return &EmbeddingStore{
		db:     db,
		logger: logger.With("component", "embedding_store"),
	}
}

// UpsertDatasetEmbedding stores the embedding for a dataset summary, replacing
// any previous vector for the dataset.
func (s *EmbeddingStore) UpsertDatasetEmbedding(ctx context.Context, datasetID int64, summary string, vector []float64, status string) error {
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dataset_embeddings (dataset_id, summary_text, embedding, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id) DO UPDATE
		SET summary_text = EXCLUDED.summary_text,
		    embedding = EXCLUDED.embedding,
		    status = EXCLUDED.status,
		    updated_at = NOW()`,
		datasetID, summary, vectorJSON, status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dataset embedding: %w", err)
	}

	return nil
}

// UpsertFloatEmbedding stores the embedding for one float descriptor within a
// dataset.
func (s *EmbeddingStore) UpsertFloatEmbedding(ctx context.Context, floatID, datasetID int64, descriptor string, vector []float64, status string) error {
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO float_embeddings (float_id, dataset_id, descriptor, embedding, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT uq_float_embeddings_float_dataset DO UPDATE
		SET descriptor = EXCLUDED.descriptor,
		    embedding = EXCLUDED.embedding,
		    status = EXCLUDED.status,
		    updated_at = NOW()`,
		floatID, datasetID, descriptor, vectorJSON, status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert float embedding: %w", err)
	}

	return nil
}

// FloatDescriptorRow carries the raw material for one float's descriptor text.
type FloatDescriptorRow struct {
	FloatID        int64
	PlatformNumber string
	FloatType      string
	ProfileCount   int
	FirstCycle     *string
	LastCycle      *string
	LastLatitude   *float64
	LastLongitude  *float64
	RegionName     string
}

// ListFloatDescriptors returns per-float aggregates for a dataset, with the
// containing ocean region resolved via spatial lookup on the latest position.
func (s *EmbeddingStore) ListFloatDescriptors(ctx context.Context, datasetID int64) ([]FloatDescriptorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH float_stats AS (
			SELECT f.float_id,
			       f.platform_number,
			       COALESCE(f.float_type, 'core') AS float_type,
			       COUNT(p.profile_id) AS profile_count,
			       to_char(MIN(p.timestamp), 'YYYY-MM-DD') AS first_cycle,
			       to_char(MAX(p.timestamp), 'YYYY-MM-DD') AS last_cycle
			FROM floats f
			JOIN profiles p ON p.float_id = f.float_id
			WHERE p.dataset_id = $1
			GROUP BY f.float_id, f.platform_number, f.float_type
		)
		SELECT fs.float_id, fs.platform_number, fs.float_type, fs.profile_count,
		       fs.first_cycle, fs.last_cycle,
		       lp.latitude, lp.longitude,
		       COALESCE((
		           SELECT r.region_name FROM ocean_regions r
		           WHERE lp.geom IS NOT NULL AND ST_Contains(r.geom::geometry, lp.geom::geometry)
		           ORDER BY ST_Area(r.geom::geometry) LIMIT 1
		       ), '')
		FROM float_stats fs
		LEFT JOIN mv_float_latest_position lp ON lp.platform_number = fs.platform_number
		ORDER BY fs.platform_number`,
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list float descriptors: %w", err)
	}
	defer rows.Close()

	var descriptors []FloatDescriptorRow
	for rows.Next() {
		var d FloatDescriptorRow
		if err := rows.Scan(&d.FloatID, &d.PlatformNumber, &d.FloatType, &d.ProfileCount,
			&d.FirstCycle, &d.LastCycle, &d.LastLatitude, &d.LastLongitude, &d.RegionName); err != nil {
			return nil, fmt.Errorf("failed to scan float descriptor: %w", err)
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, rows.Err()
}

// GetDatasetSummary returns the summary text stored for a dataset.
func (s *EmbeddingStore) GetDatasetSummary(ctx context.Context, datasetID int64) (string, error) {
	var summary sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT summary_text FROM datasets WHERE dataset_id = $1`, datasetID,
	).Scan(&summary)
	if err != nil {
		return "", fmt.Errorf("failed to get dataset summary: %w", err)
	}

	return summary.String, nil
}
