package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// RegionStore resolves named ocean regions by spatial containment and seeds
// the region table from a YAML gazetteer file.
type RegionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRegionStore creates a RegionStore on an established connection.
func NewRegionStore(db *sql.DB, logger *slog.Logger) *RegionStore {
	return &RegionStore{
		db:     db,
		logger: logger.With("component", "region_store"),
	}
}

// RegionNameForPoint returns the name of the most specific region containing
// the point, or an empty string when no region matches. Seas and bays sit
// inside their parent ocean polygons, so the smallest containing region wins.
// Lookups never fail the caller on a miss; only database errors are returned.
func (s *RegionStore) RegionNameForPoint(ctx context.Context, lat, lon float64) (string, error) {
	var name string

	err := s.db.QueryRowContext(ctx, `
		SELECT region_name FROM ocean_regions
		WHERE geom IS NOT NULL
		  AND ST_Contains(geom::geometry, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY ST_Area(geom::geometry)
		LIMIT 1`,
		lon, lat,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve region for point: %w", err)
	}

	return name, nil
}

// seedRegion is one entry in the region seed file.
type seedRegion struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Parent      string `yaml:"parent,omitempty"`
	PolygonWKT  string `yaml:"polygon_wkt"`
	Description string `yaml:"description,omitempty"`
}

type seedFile struct {
	Regions []seedRegion `yaml:"regions"`
}

// SeedRegions loads ocean region polygons from a YAML file, inserting any
// regions not already present. Existing regions are left untouched so manual
// edits survive reseeding.
func (s *RegionStore) SeedRegions(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read region seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse region seed file: %w", err)
	}

	inserted := 0
	for _, region := range seed.Regions {
		var parentID sql.NullInt64
		if region.Parent != "" {
			err := s.db.QueryRowContext(ctx,
				`SELECT region_id FROM ocean_regions WHERE region_name = $1`, region.Parent,
			).Scan(&parentID.Int64)
			if err == nil {
				parentID.Valid = true
			} else if err != sql.ErrNoRows {
				return inserted, fmt.Errorf("failed to resolve parent region %q: %w", region.Parent, err)
			}
		}

		result, err := s.db.ExecContext(ctx, `
			INSERT INTO ocean_regions (region_name, region_type, parent_region_id, geom, description)
			VALUES ($1, $2, $3, ST_GeogFromText($4), $5)
			ON CONFLICT (region_name) DO NOTHING`,
			region.Name, nullableStr(region.Type), parentID, region.PolygonWKT, nullableStr(region.Description),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed region %q: %w", region.Name, err)
		}

		if affected, _ := result.RowsAffected(); affected > 0 {
			inserted++
		}
	}

	if inserted > 0 {
		s.logger.Info("ocean regions seeded", "inserted", inserted, "total", len(seed.Regions))
	}

	return inserted, nil
}
