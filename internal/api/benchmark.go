package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/floatchat-io/floatchat/internal/config"
	"github.com/floatchat-io/floatchat/internal/query"
)

// BenchmarkRequest is the body of POST /api/v1/query/benchmark.
type BenchmarkRequest struct {
	Query string `json:"query"`
}

// BenchmarkResult is one provider's generation outcome.
type BenchmarkResult struct {
	Provider     string   `json:"provider"`
	SQL          string   `json:"sql,omitempty"`
	Valid        bool     `json:"valid"`
	AttemptCount int      `json:"attempt_count,omitempty"`
	LatencyMS    int64    `json:"latency_ms"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// BenchmarkResponse is the body of POST /api/v1/query/benchmark.
type BenchmarkResponse struct {
	Query   string            `json:"query"`
	Results []BenchmarkResult `json:"results"`
}

// handleBenchmark generates SQL for the same question across every configured
// provider, sequentially, reporting per-provider latency and validation.
// Nothing is executed.
func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	var req BenchmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Field 'query' is required"))

		return
	}

	if len(s.deps.BenchmarkProviders) == 0 {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("No language model providers configured"))

		return
	}

	totalTimeout := config.GetEnvDuration("QUERY_BENCHMARK_TIMEOUT", 2*time.Minute)

	ctx, cancel := context.WithTimeout(r.Context(), totalTimeout)
	defer cancel()

	region := query.ResolveRegion(req.Query)
	results := make([]BenchmarkResult, 0, len(s.deps.BenchmarkProviders))

	for _, provider := range s.deps.BenchmarkProviders {
		pipeline := query.NewPipeline(provider, s.logger)

		start := time.Now()
		gen, err := pipeline.GenerateSQL(ctx, req.Query, nil, region)
		latency := time.Since(start).Milliseconds()

		result := BenchmarkResult{
			Provider:  provider.Name(),
			LatencyMS: latency,
		}

		if err != nil {
			result.Errors = []string{err.Error()}
		} else {
			result.SQL = gen.SQL
			result.Valid = gen.Validation.Valid
			result.AttemptCount = gen.AttemptCount
			result.Errors = gen.Validation.Errors
			result.Warnings = gen.Validation.Warnings
		}

		results = append(results, result)

		if ctx.Err() != nil {
			break
		}
	}

	s.writeJSON(w, r, http.StatusOK, BenchmarkResponse{
		Query:   req.Query,
		Results: results,
	})
}
