package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/floatchat-io/floatchat/internal/argo"
	"github.com/floatchat-io/floatchat/internal/ingest"
)

// Compile-time check that ProfileWriter satisfies the ingestion domain interface.
var _ ingest.Writer = (*ProfileWriter)(nil)

// ProfileWriter persists parsed ARGO files into floats, profiles,
// measurements, and float_positions within a single transaction, so a failed
// write leaves no partial data behind.
type ProfileWriter struct {
	db        *sql.DB
	batchSize int
	logger    *slog.Logger
}

// NewProfileWriter creates a ProfileWriter using the configured insert batch size.
func NewProfileWriter(db *sql.DB, cfg *Config, logger *slog.Logger) *ProfileWriter {
	batchSize := cfg.InsertBatchSize
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	return &ProfileWriter{
		db:        db,
		batchSize: batchSize,
		logger:    logger.With("component", "profile_writer"),
	}
}

// WriteParseResult upserts all records for a parse result. Profile rows are
// written idempotently keyed on (platform_number, cycle_number), with
// measurements replaced wholesale per profile, so retrying a failed job never
// duplicates data. The progress callback fires after each profile.
func (w *ProfileWriter) WriteParseResult(ctx context.Context, datasetID int64, result *argo.ParseResult, progress func(written, total int)) (ingest.WriteStats, error) {
	var stats ingest.WriteStats

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, classifyWriteError(fmt.Errorf("failed to begin write transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	// Float IDs are cached per platform; multi-profile files usually belong
	// to a single float.
	floatIDs := make(map[string]int64)
	total := result.ProfileCount()

	for i := range result.Profiles {
		profile := &result.Profiles[i]

		floatID, cached := floatIDs[profile.PlatformNumber]
		if !cached {
			floatID, err = w.upsertFloat(ctx, tx, profile.PlatformNumber, result.FloatType)
			if err != nil {
				return stats, classifyWriteError(err)
			}
			floatIDs[profile.PlatformNumber] = floatID
			stats.FloatsUpserted++
		}

		profileID, err := w.upsertProfile(ctx, tx, floatID, datasetID, profile)
		if err != nil {
			return stats, classifyWriteError(err)
		}

		written, err := w.replaceMeasurements(ctx, tx, profileID, profile.Measurements)
		if err != nil {
			return stats, classifyWriteError(err)
		}
		stats.MeasurementsWritten += written

		if err := w.upsertPosition(ctx, tx, profile); err != nil {
			return stats, classifyWriteError(err)
		}

		stats.ProfilesWritten++
		if progress != nil {
			progress(stats.ProfilesWritten, total)
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, classifyWriteError(fmt.Errorf("failed to commit write transaction: %w", err))
	}

	w.logger.Info("parse result written",
		"dataset_id", datasetID,
		"profiles", stats.ProfilesWritten,
		"measurements", stats.MeasurementsWritten,
	)

	return stats, nil
}

// classifyWriteError tags lost-connection failures as transient so the job
// consumer retries them instead of failing the job outright.
func classifyWriteError(err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ingest.ErrTransient, err)
	}

	return err
}

func (w *ProfileWriter) upsertFloat(ctx context.Context, tx *sql.Tx, platformNumber, floatType string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO floats (platform_number, float_type)
		VALUES ($1, $2)
		ON CONFLICT (platform_number) DO NOTHING`,
		platformNumber, floatType,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert float %s: %w", platformNumber, err)
	}

	var floatID int64
	err = tx.QueryRowContext(ctx,
		`SELECT float_id FROM floats WHERE platform_number = $1`, platformNumber,
	).Scan(&floatID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve float %s: %w", platformNumber, err)
	}

	return floatID, nil
}

func (w *ProfileWriter) upsertProfile(ctx context.Context, tx *sql.Tx, floatID, datasetID int64, p *argo.Profile) (int64, error) {
	var profileID int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO profiles (float_id, platform_number, cycle_number, juld_raw,
			timestamp, timestamp_missing, latitude, longitude, position_invalid,
			data_mode, dataset_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT uq_profiles_platform_cycle DO UPDATE
		SET float_id = EXCLUDED.float_id,
		    juld_raw = EXCLUDED.juld_raw,
		    timestamp = EXCLUDED.timestamp,
		    timestamp_missing = EXCLUDED.timestamp_missing,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    position_invalid = EXCLUDED.position_invalid,
		    data_mode = EXCLUDED.data_mode,
		    dataset_id = EXCLUDED.dataset_id,
		    updated_at = NOW()
		RETURNING profile_id`,
		floatID, p.PlatformNumber, p.CycleNumber, p.JuldRaw,
		p.Timestamp, p.TimestampMissing, p.Latitude, p.Longitude, p.PositionInvalid,
		nullableStr(p.DataMode), datasetID,
	).Scan(&profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert profile %s/%d: %w", p.PlatformNumber, p.CycleNumber, err)
	}

	if !p.PositionInvalid && p.Latitude != nil && p.Longitude != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE profiles
			SET geom = ST_GeogFromText('SRID=4326;POINT(' || $2::text || ' ' || $3::text || ')')
			WHERE profile_id = $1`,
			profileID, *p.Longitude, *p.Latitude,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to set profile geometry: %w", err)
		}
	}

	return profileID, nil
}

const measurementColumns = `profile_id, pressure, temperature, salinity,
	dissolved_oxygen, chlorophyll, nitrate, ph, bbp700, downwelling_irradiance,
	pres_qc, temp_qc, psal_qc, doxy_qc, chla_qc, nitrate_qc, ph_qc, is_outlier`

const measurementFieldCount = 18

// replaceMeasurements deletes any existing rows for the profile and
// batch-inserts the new set.
func (w *ProfileWriter) replaceMeasurements(ctx context.Context, tx *sql.Tx, profileID int64, measurements []argo.Measurement) (int, error) {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM measurements WHERE profile_id = $1`, profileID); err != nil {
		return 0, fmt.Errorf("failed to clear measurements: %w", err)
	}

	written := 0
	for start := 0; start < len(measurements); start += w.batchSize {
		end := start + w.batchSize
		if end > len(measurements) {
			end = len(measurements)
		}

		if err := w.insertBatch(ctx, tx, profileID, measurements[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}

	return written, nil
}

func (w *ProfileWriter) insertBatch(ctx context.Context, tx *sql.Tx, profileID int64, batch []argo.Measurement) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO measurements (` + measurementColumns + `) VALUES `)

	args := make([]any, 0, len(batch)*measurementFieldCount)
	for i := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString("(")
		for f := 0; f < measurementFieldCount; f++ {
			if f > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*measurementFieldCount+f+1)
		}
		sb.WriteString(")")

		m := &batch[i]
		args = append(args, profileID,
			m.Pressure, m.Temperature, m.Salinity,
			m.DissolvedOxygen, m.Chlorophyll, m.Nitrate, m.PH,
			m.BBP700, m.DownwellingIrradiance,
			m.PressureQC, m.TemperatureQC, m.SalinityQC, m.DissolvedOxygenQC,
			m.ChlorophyllQC, m.NitrateQC, m.PHQC, m.IsOutlier,
		)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert measurement batch: %w", err)
	}

	return nil
}

// upsertPosition maintains the denormalized float_positions table used by the
// map surface. Profiles without a valid position are skipped.
func (w *ProfileWriter) upsertPosition(ctx context.Context, tx *sql.Tx, p *argo.Profile) error {
	if p.PositionInvalid || p.Latitude == nil || p.Longitude == nil {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO float_positions (platform_number, cycle_number, timestamp, latitude, longitude, geom)
		VALUES ($1, $2, $3, $4, $5,
			ST_GeogFromText('SRID=4326;POINT(' || $5::text || ' ' || $4::text || ')'))
		ON CONFLICT ON CONSTRAINT uq_float_positions_platform_cycle DO UPDATE
		SET timestamp = EXCLUDED.timestamp,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    geom = EXCLUDED.geom`,
		p.PlatformNumber, p.CycleNumber, p.Timestamp, *p.Latitude, *p.Longitude,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert float position %s/%d: %w", p.PlatformNumber, p.CycleNumber, err)
	}

	return nil
}
