package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Validation errors.
var (
	ErrUnparsableSQL     = errors.New("SQL could not be parsed")
	ErrMultipleStatement = errors.New("only a single SQL statement is allowed")
	ErrNotSelect         = errors.New("only SELECT statements are allowed")
	ErrTableNotAllowed   = errors.New("table is not in the allowed set")
)

// AllowedTables is the relation whitelist for generated SQL.
var AllowedTables = map[string]bool{
	"floats":                    true,
	"profiles":                  true,
	"measurements":              true,
	"datasets":                  true,
	"float_positions":           true,
	"ocean_regions":             true,
	"mv_float_latest_position":  true,
	"mv_dataset_stats":          true,
}

// forbiddenNodes are statement types that must not appear anywhere in the
// tree, including inside CTEs.
var forbiddenNodes = []string{
	"InsertStmt", "UpdateStmt", "DeleteStmt", "MergeStmt",
	"CreateStmt", "CreateTableAsStmt", "DropStmt", "TruncateStmt",
	"AlterTableStmt", "GrantStmt", "RevokeStmt", "CopyStmt",
	"VariableSetStmt", "ExplainStmt", "VacuumStmt", "IndexStmt",
	"CreateFunctionStmt", "DoStmt", "TransactionStmt", "LockStmt",
	"CreateRoleStmt", "AlterRoleStmt", "PrepareStmt", "ExecuteStmt",
	"DeallocateStmt", "CreateExtensionStmt", "RefreshMatViewStmt",
}

// ValidationResult carries the outcome of SQL validation. Warnings are
// advisory and never block execution.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Tables   []string
}

// Validate checks generated SQL against the read-only policy: a single plain
// SELECT over whitelisted tables. CTE aliases are exempt from the whitelist.
func Validate(sql string) ValidationResult {
	result := ValidationResult{}

	parsed, err := pg_query.ParseToJSON(sql)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ErrUnparsableSQL, err))

		return result
	}

	var tree struct {
		Stmts []struct {
			Stmt map[string]json.RawMessage `json:"stmt"`
		} `json:"stmts"`
	}
	if err := json.Unmarshal([]byte(parsed), &tree); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ErrUnparsableSQL, err))

		return result
	}

	if len(tree.Stmts) != 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: got %d", ErrMultipleStatement, len(tree.Stmts)))

		return result
	}

	stmt := tree.Stmts[0].Stmt
	if _, ok := stmt["SelectStmt"]; !ok {
		result.Errors = append(result.Errors, ErrNotSelect.Error())

		return result
	}

	var generic any
	if err := json.Unmarshal([]byte(parsed), &generic); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ErrUnparsableSQL, err))

		return result
	}

	walk := treeWalk{}
	walk.visit(generic)

	for _, node := range walk.forbidden {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", ErrNotSelect, node))
	}

	tables := make([]string, 0, len(walk.relations))
	for relation := range walk.relations {
		if walk.cteNames[relation] {
			continue
		}
		tables = append(tables, relation)
		if !AllowedTables[relation] {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", ErrTableNotAllowed, relation))
		}
	}
	sort.Strings(tables)
	result.Tables = tables

	result.Warnings = spatialCastWarnings(sql)
	result.Valid = len(result.Errors) == 0

	return result
}

// treeWalk accumulates relation references, CTE names, and forbidden
// statement nodes from the generic parse tree.
type treeWalk struct {
	relations map[string]bool
	cteNames  map[string]bool
	forbidden []string
}

func (w *treeWalk) visit(node any) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			switch key {
			case "RangeVar":
				if rel, ok := childString(child, "relname"); ok {
					if w.relations == nil {
						w.relations = map[string]bool{}
					}
					w.relations[strings.ToLower(rel)] = true
				}
			case "CommonTableExpr":
				if name, ok := childString(child, "ctename"); ok {
					if w.cteNames == nil {
						w.cteNames = map[string]bool{}
					}
					w.cteNames[strings.ToLower(name)] = true
				}
			default:
				for _, forbidden := range forbiddenNodes {
					if key == forbidden {
						w.forbidden = append(w.forbidden, key)
					}
				}
			}
			w.visit(child)
		}
	case []any:
		for _, child := range v {
			w.visit(child)
		}
	}
}

func childString(node any, key string) (string, bool) {
	m, ok := node.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)

	return s, ok
}

// spatialCastWarnings flags PostGIS calls likely to misbehave without an
// explicit cast: distance on geometry uses degrees, containment on geography
// is unsupported for most predicates.
func spatialCastWarnings(sql string) []string {
	var warnings []string
	upper := strings.ToUpper(sql)

	if strings.Contains(upper, "ST_DWITHIN") && !strings.Contains(sql, "::geography") {
		warnings = append(warnings, "ST_DWithin without ::geography cast measures in degrees, not meters")
	}
	if (strings.Contains(upper, "ST_CONTAINS") || strings.Contains(upper, "ST_WITHIN")) &&
		!strings.Contains(sql, "::geometry") {
		warnings = append(warnings, "ST_Contains/ST_Within require ::geometry casts on geography columns")
	}

	return warnings
}
