package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/floatchat-io/floatchat/internal/config"
)

// QueryResult carries the rows returned by a guarded execution.
type QueryResult struct {
	Columns         []string
	Rows            [][]any
	RowCount        int
	Truncated       bool
	SQL             string
	ExecutionTimeMS int64
}

// Executor runs validated SELECTs against the read-only connection with a
// hard row cap.
type Executor struct {
	db      *sql.DB
	maxRows int
	logger  *slog.Logger
}

// NewExecutor creates an Executor. The connection must use the read-only
// role; the executor adds a row cap but relies on the role for write safety.
func NewExecutor(db *sql.DB, logger *slog.Logger) *Executor {
	return &Executor{
		db:      db,
		maxRows: config.GetEnvInt("QUERY_MAX_ROWS", 1000),
		logger:  logger.With("component", "executor"),
	}
}

// limitTail matches an explicit LIMIT near the end of the statement.
var limitTail = regexp.MustCompile(`(?i)\bLIMIT\s+\d+\s*(OFFSET\s+\d+\s*)?;?\s*$`)

// hasExplicitLimit reports whether the query ends with its own LIMIT clause.
// Only the tail is inspected so subquery limits do not disable the cap.
func hasExplicitLimit(sqlText string) bool {
	tail := sqlText
	if len(tail) > 80 {
		tail = tail[len(tail)-80:]
	}

	return limitTail.MatchString(tail)
}

// Execute runs the query and materializes up to maxRows+1 rows. Queries
// without an explicit LIMIT are wrapped in a capped subquery; hitting the cap
// sets Truncated.
func (e *Executor) Execute(ctx context.Context, sqlText string) (*QueryResult, error) {
	wrapped := strings.TrimRight(strings.TrimSpace(sqlText), ";")
	capApplied := false
	if !hasExplicitLimit(wrapped) {
		wrapped = fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", wrapped, e.maxRows+1)
		capApplied = true
	}

	start := time.Now()

	rows, err := e.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &QueryResult{
		Columns: columns,
		SQL:     sqlText,
	}

	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		result.Rows = append(result.Rows, values)
		if capApplied && len(result.Rows) > e.maxRows {
			result.Rows = result.Rows[:e.maxRows]
			result.Truncated = true

			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()

	e.logger.Debug("query executed",
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"duration_ms", result.ExecutionTimeMS,
	)

	return result, nil
}

// EstimateRows returns the planner's row estimate for the query, or nil when
// the estimate cannot be obtained. A nil estimate means the caller should
// execute without a confirmation gate.
func (e *Executor) EstimateRows(ctx context.Context, sqlText string) *int64 {
	var planJSON string

	explain := "EXPLAIN (FORMAT JSON) " + strings.TrimRight(strings.TrimSpace(sqlText), ";")
	if err := e.db.QueryRowContext(ctx, explain).Scan(&planJSON); err != nil {
		e.logger.Debug("row estimate unavailable", "error", err)

		return nil
	}

	var plans []struct {
		Plan struct {
			PlanRows float64 `json:"Plan Rows"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal([]byte(planJSON), &plans); err != nil || len(plans) == 0 {
		return nil
	}

	estimate := int64(plans[0].Plan.PlanRows)

	return &estimate
}
