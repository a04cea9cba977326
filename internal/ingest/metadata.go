package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/floatchat-io/floatchat/internal/llm"
)

// LLMSummarizer produces dataset summary text with a chat provider.
type LLMSummarizer struct {
	provider llm.Provider
	logger   *slog.Logger
}

// Compile-time check that LLMSummarizer satisfies the domain interface.
var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer creates a summarizer. Provider may be nil; Summarize then
// always returns the deterministic template.
func NewLLMSummarizer(provider llm.Provider, logger *slog.Logger) *LLMSummarizer {
	return &LLMSummarizer{
		provider: provider,
		logger:   logger.With("component", "summarizer"),
	}
}

const summaryPrompt = `You describe oceanographic datasets for a searchable catalog.
Write a 2-3 sentence factual summary of the dataset described below. Mention
the spatial coverage, the time range, and the variables measured. No
speculation, no marketing language.`

// Summarize produces the dataset summary, falling back to the deterministic
// template on any provider failure.
func (s *LLMSummarizer) Summarize(ctx context.Context, md *DatasetMetadata) (string, error) {
	fallback := FallbackSummary(md)
	if s.provider == nil {
		return fallback, nil
	}

	text, err := s.provider.Chat(ctx, summaryPrompt, llm.UserTurn(fallback))
	if err != nil {
		s.logger.Warn("summary generation failed, using template", "error", err)

		return fallback, nil
	}

	return text, nil
}

// FallbackSummary renders the deterministic summary template used when no
// provider is available.
func FallbackSummary(md *DatasetMetadata) string {
	start, end := "unknown", "unknown"
	if md.DateRangeStart != nil {
		start = md.DateRangeStart.Format("2006-01-02")
	}
	if md.DateRangeEnd != nil {
		end = md.DateRangeEnd.Format("2006-01-02")
	}

	variables := "none recorded"
	if len(md.Variables) > 0 {
		variables = strings.Join(md.Variables, ", ")
	}

	return fmt.Sprintf("Dataset contains %d profiles from %d floats, spanning %s to %s. Variables: %s.",
		md.ProfileCount, md.FloatCount, start, end, variables)
}
