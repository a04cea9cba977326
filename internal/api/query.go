package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/floatchat-io/floatchat/internal/query"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query            string `json:"query"`
	SessionID        string `json:"session_id,omitempty"`
	ConfirmExecution bool   `json:"confirm_execution,omitempty"`
	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
}

// QueryResponse is the success body of POST /api/v1/query.
type QueryResponse struct {
	SQL             string   `json:"sql"`
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	Truncated       bool     `json:"truncated"`
	Interpretation  string   `json:"interpretation"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	AttemptCount    int      `json:"attempt_count"`
	Region          string   `json:"region,omitempty"`
}

// ConfirmationResponse is returned instead of results when the row estimate
// exceeds the confirmation threshold.
type ConfirmationResponse struct {
	ConfirmationRequired bool   `json:"confirmation_required"`
	EstimatedRows        int64  `json:"estimated_rows"`
	SQL                  string `json:"sql"`
}

// handleQuery runs the full NL query pipeline: geography resolution,
// conversation context, SQL generation, row estimation with a confirmation
// gate, guarded execution, and interpretation.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Field 'query' is required"))

		return
	}

	generator, problem := s.resolveGenerator(req.Provider, req.Model)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	ctx := r.Context()
	region := query.ResolveRegion(req.Query)

	var history []query.ContextTurn
	if req.SessionID != "" && s.deps.Conversations != nil {
		history = s.deps.Conversations.Get(ctx, req.SessionID)
	}

	// The user turn is remembered even when generation or execution fails,
	// so a rephrased follow-up still has the failed question in context.
	s.rememberTurn(ctx, req.SessionID, query.ContextTurn{Role: "user", Content: req.Query})

	gen, err := generator.GenerateSQL(ctx, req.Query, history, region)
	if err != nil {
		s.writeGenerationError(w, r, err)

		return
	}

	if !req.ConfirmExecution {
		if estimate := s.deps.Executor.EstimateRows(ctx, gen.SQL); estimate != nil &&
			*estimate > s.config.ConfirmationThreshold {
			s.writeJSON(w, r, http.StatusOK, ConfirmationResponse{
				ConfirmationRequired: true,
				EstimatedRows:        *estimate,
				SQL:                  gen.SQL,
			})

			return
		}
	}

	result, err := s.deps.Executor.Execute(ctx, gen.SQL)
	if err != nil {
		s.logger.Error("Query execution failed",
			slog.String("sql", gen.SQL), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Query execution failed"))

		return
	}

	interpretation := generator.Interpret(ctx, req.Query, result)

	s.rememberTurn(ctx, req.SessionID, query.ContextTurn{
		Role:     "assistant",
		Content:  interpretation,
		SQL:      result.SQL,
		RowCount: result.RowCount,
	})

	resp := QueryResponse{
		SQL:             result.SQL,
		Columns:         result.Columns,
		Rows:            result.Rows,
		RowCount:        result.RowCount,
		Truncated:       result.Truncated,
		Interpretation:  interpretation,
		ExecutionTimeMS: result.ExecutionTimeMS,
		AttemptCount:    gen.AttemptCount,
	}
	if region != nil {
		resp.Region = region.Name
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// resolveGenerator returns the generator for an optional per-request
// provider/model override.
func (s *Server) resolveGenerator(provider, model string) (SQLGenerator, *ProblemDetail) {
	if provider == "" && model == "" {
		return s.deps.Generator, nil
	}

	if s.deps.GeneratorFor == nil {
		return s.deps.Generator, nil
	}

	generator, err := s.deps.GeneratorFor(provider, model)
	if err != nil {
		return nil, BadRequest("Unknown provider or missing API key for the requested override")
	}

	return generator, nil
}

func (s *Server) rememberTurn(ctx context.Context, sessionID string, turn query.ContextTurn) {
	if sessionID == "" || s.deps.Conversations == nil {
		return
	}

	s.deps.Conversations.Append(ctx, sessionID, turn)
}

// writeGenerationError maps SQL generation failures onto the HTTP surface.
func (s *Server) writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, query.ErrGenerationExhausted) {
		// The sentinel wraps the collected validation errors.
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	s.logger.Error("SQL generation failed", slog.String("error", err.Error()))
	WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Language model is unavailable"))
}
