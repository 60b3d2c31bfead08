package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/database"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// TelemetryRepository provides data access for the relational sink: the wide
// pivot table with a per-batch extensible schema, and the gap table.
type TelemetryRepository interface {
	// Wide-table publication
	ReplaceStaging(ctx context.Context, observations []models.Observation) (int, error)
	WideColumns(ctx context.Context) ([]string, error)
	ExtendWideSchema(ctx context.Context, delta models.SchemaDelta) error
	MergeWideRows(ctx context.Context, table models.WideTable) (int, error)

	// Gap publication
	UpsertGaps(ctx context.Context, gaps []models.GapInterval) (int, error)

	// Query operations
	GetWideRows(ctx context.Context, filter WideRowFilter) ([]map[string]interface{}, int, error)
	GetGaps(ctx context.Context, filter GapFilter) ([]*models.GapInterval, int, error)

	HealthCheck(ctx context.Context) error
}

// WideRowFilter defines filters for querying pivoted telemetry rows
type WideRowFilter struct {
	VesselID  *string
	StartTime *string
	EndTime   *string
	Limit     int
	Offset    int
}

// GapFilter defines filters for querying gap intervals
type GapFilter struct {
	VesselID *string
	SignalID *string
	Since    *time.Time
	Limit    int
	Offset   int
}

// Base columns of the wide table; everything else is a signal column added
// at merge time.
var baseWideColumns = map[string]bool{
	"vessel_id": true,
	"timestamp": true,
	"load_date": true,
}

// telemetryRepository implements TelemetryRepository
type telemetryRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTelemetryRepository creates a new telemetry repository
func NewTelemetryRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) TelemetryRepository {
	return &telemetryRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ReplaceStaging replaces the long-form staging table with the published
// summary. Each publication stages the full batch; the merge reads from the
// pivoted form, so staging exists for audit and replay.
func (r *telemetryRepository) ReplaceStaging(ctx context.Context, observations []models.Observation) (int, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "TRUNCATE timeseries_staging"); err != nil {
		r.metrics.RecordDBError("staging_truncate_error")
		return 0, fmt.Errorf("failed to truncate staging: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("timeseries_staging",
		"vessel_id", "signal_id", "signal_timestamp", "signal_value", "friendly_name", "load_date"))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare staging copy: %w", err)
	}

	for _, obs := range observations {
		var value interface{}
		if obs.Value != nil {
			value = *obs.Value
		}
		if _, err := stmt.ExecContext(ctx, obs.VesselID, obs.SignalID, obs.Timestamp, value, obs.FriendlyName, obs.LoadDate); err != nil {
			stmt.Close()
			r.metrics.RecordDBError("staging_copy_error")
			return 0, fmt.Errorf("failed to stage observation: %w", err)
		}
	}

	// Flush the COPY stream.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		r.metrics.RecordDBError("staging_copy_error")
		return 0, fmt.Errorf("failed to flush staging copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close staging copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit staging replace: %w", err)
	}

	r.logger.Info(ctx, "[REPO_STAGING] Staging table replaced", logging.Fields{
		"rows": len(observations),
	})

	return len(observations), nil
}

// WideColumns returns the current column set of the wide table.
func (r *telemetryRepository) WideColumns(ctx context.Context) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = 'timeseries_pivot'
		ORDER BY column_name
	`

	var columns []string
	if err := r.db.SelectContext(ctx, "wide_columns", &columns, query); err != nil {
		return nil, fmt.Errorf("failed to list wide columns: %w", err)
	}

	return columns, nil
}

// ExtendWideSchema adds the delta's signal columns to the wide table. Adding
// is idempotent; columns are never dropped.
func (r *telemetryRepository) ExtendWideSchema(ctx context.Context, delta models.SchemaDelta) error {
	if delta.Empty() {
		return nil
	}

	for _, column := range delta.Added {
		if baseWideColumns[column] {
			continue
		}
		query := fmt.Sprintf(
			"ALTER TABLE timeseries_pivot ADD COLUMN IF NOT EXISTS %s DOUBLE PRECISION",
			pq.QuoteIdentifier(column),
		)
		if _, err := r.db.ExecContext(ctx, "extend_wide_schema", query); err != nil {
			return fmt.Errorf("failed to add column %s: %w", column, err)
		}
	}

	r.logger.Info(ctx, "[REPO_EXTEND_SCHEMA] Wide table extended", logging.Fields{
		"added_columns": len(delta.Added),
	})

	return nil
}

// MergeWideRows upserts pivoted rows keyed on (vessel_id, timestamp). Signal
// cells of an existing row are overwritten only by non-null incoming values.
func (r *telemetryRepository) MergeWideRows(ctx context.Context, table models.WideTable) (int, error) {
	if len(table.Rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	columns := []string{"vessel_id", "timestamp", "load_date"}
	quoted := []string{"vessel_id", "timestamp", "load_date"}
	for _, col := range table.Columns {
		columns = append(columns, col)
		quoted = append(quoted, pq.QuoteIdentifier(col))
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	updates := []string{"load_date = EXCLUDED.load_date"}
	for _, col := range table.Columns {
		q := pq.QuoteIdentifier(col)
		updates = append(updates, fmt.Sprintf(
			"%s = COALESCE(EXCLUDED.%s, timeseries_pivot.%s)", q, q, q,
		))
	}

	query := fmt.Sprintf(`
		INSERT INTO timeseries_pivot (%s)
		VALUES (%s)
		ON CONFLICT (vessel_id, timestamp) DO UPDATE SET %s
	`, strings.Join(quoted, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	merged := 0
	for _, row := range table.Rows {
		args := make([]interface{}, 0, len(columns))
		args = append(args, row.VesselID, row.Timestamp, row.LoadDate)
		for _, col := range table.Columns {
			if v, ok := row.Values[col]; ok && v != nil {
				args = append(args, *v)
			} else {
				args = append(args, nil)
			}
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.metrics.RecordDBError("merge_error")
			return 0, fmt.Errorf("failed to merge wide row: %w", err)
		}
		merged++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit wide merge: %w", err)
	}

	r.logger.Info(ctx, "[REPO_MERGE_WIDE] Wide rows merged", logging.Fields{
		"rows":    merged,
		"columns": len(table.Columns),
	})

	return merged, nil
}

// UpsertGaps upserts gap intervals keyed on (vessel_id, signal_id, gap_start).
// A re-detected gap extends its end bound rather than duplicating the row.
func (r *telemetryRepository) UpsertGaps(ctx context.Context, gaps []models.GapInterval) (int, error) {
	if len(gaps) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO timeseries_gaps (vessel_id, signal_id, gap_start, gap_end, load_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vessel_id, signal_id, gap_start) DO UPDATE SET
			gap_end = GREATEST(timeseries_gaps.gap_end, EXCLUDED.gap_end),
			load_date = EXCLUDED.load_date
	`

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, gap := range gaps {
		if _, err := tx.ExecContext(ctx, query,
			gap.VesselID,
			gap.SignalID,
			gap.GapStart,
			gap.GapEnd,
			gap.LoadDate,
		); err != nil {
			r.metrics.RecordDBError("gap_upsert_error")
			return 0, fmt.Errorf("failed to upsert gap: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit gap upsert: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_GAPS] Gap intervals upserted", logging.Fields{
		"count": len(gaps),
	})

	return len(gaps), nil
}

// GetWideRows retrieves pivoted telemetry rows with optional filters. Rows
// come back as generic maps because the column set is dynamic.
func (r *telemetryRepository) GetWideRows(ctx context.Context, filter WideRowFilter) ([]map[string]interface{}, int, error) {
	query := `
		SELECT *
		FROM timeseries_pivot
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.VesselID != nil {
		query += fmt.Sprintf(" AND vessel_id = $%d", argNum)
		args = append(args, *filter.VesselID)
		argNum++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argNum)
		args = append(args, *filter.StartTime)
		argNum++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argNum)
		args = append(args, *filter.EndTime)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_wide_rows", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count telemetry rows: %w", err)
	}

	query += " ORDER BY vessel_id, timestamp"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, "get_wide_rows", query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get telemetry rows: %w", err)
	}
	defer rows.Close()

	var results []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, 0, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		// MapScan yields []byte for text columns.
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate telemetry rows: %w", err)
	}

	return results, totalCount, nil
}

// GetGaps retrieves gap intervals with optional filters
func (r *telemetryRepository) GetGaps(ctx context.Context, filter GapFilter) ([]*models.GapInterval, int, error) {
	query := `
		SELECT vessel_id, signal_id, gap_start, gap_end, load_date
		FROM timeseries_gaps
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.VesselID != nil {
		query += fmt.Sprintf(" AND vessel_id = $%d", argNum)
		args = append(args, *filter.VesselID)
		argNum++
	}

	if filter.SignalID != nil {
		query += fmt.Sprintf(" AND signal_id = $%d", argNum)
		args = append(args, *filter.SignalID)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND gap_start >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_gaps", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count gaps: %w", err)
	}

	query += " ORDER BY gap_start DESC, vessel_id, signal_id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var gaps []*models.GapInterval
	if err := r.db.SelectContext(ctx, "get_gaps", &gaps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get gaps: %w", err)
	}

	return gaps, totalCount, nil
}

// HealthCheck verifies database connectivity
func (r *telemetryRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
