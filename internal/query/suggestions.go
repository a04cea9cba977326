package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floatchat-io/floatchat/internal/llm"
	"github.com/floatchat-io/floatchat/internal/storage"
)

const (
	suggestionsCacheKey = "query:suggestions"
	suggestionsCacheTTL = time.Hour
	maxSuggestions      = 6
)

// fallbackSuggestions are served when no datasets are loaded or anything in
// the suggestion build fails.
var fallbackSuggestions = []string{
	"Show me temperature profiles near the equator",
	"How many active floats are reporting?",
	"What is the average surface salinity in the Indian Ocean?",
	"Show the latest position of every float",
	"Which floats have dissolved oxygen data?",
}

// SummaryLister provides dataset metadata for suggestion building.
// Implemented by storage.DatasetStore.
type SummaryLister interface {
	ListSummaries(ctx context.Context) ([]storage.DatasetSummary, error)
}

// Suggester builds example queries from loaded dataset metadata and proposes
// follow-up questions after each result.
type Suggester struct {
	datasets SummaryLister
	provider llm.Provider
	redis    *redis.Client
	logger   *slog.Logger
}

// NewSuggester creates a Suggester. Both provider and redis may be nil; the
// suggester degrades to static fallbacks and uncached builds.
func NewSuggester(datasets SummaryLister, provider llm.Provider, redisClient *redis.Client, logger *slog.Logger) *Suggester {
	return &Suggester{
		datasets: datasets,
		provider: provider,
		redis:    redisClient,
		logger:   logger.With("component", "suggester"),
	}
}

// LoadTimeSuggestions returns 4-6 example queries grounded in the loaded
// datasets, cached in Redis for an hour. Any failure falls back to the static
// ARGO examples.
func (s *Suggester) LoadTimeSuggestions(ctx context.Context) []string {
	if cached := s.cachedSuggestions(ctx); cached != nil {
		return cached
	}

	summaries, err := s.datasets.ListSummaries(ctx)
	if err != nil {
		s.logger.Warn("suggestion build failed, using fallbacks", "error", err)

		return fallbackSuggestions
	}
	if len(summaries) == 0 {
		return fallbackSuggestions
	}

	suggestions := buildSuggestions(summaries)
	s.cacheSuggestions(ctx, suggestions)

	return suggestions
}

// buildSuggestions derives spatial, temporal, variable, and count patterns
// from dataset metadata.
func buildSuggestions(summaries []storage.DatasetSummary) []string {
	first := summaries[0]

	var suggestions []string

	suggestions = append(suggestions,
		fmt.Sprintf("How many profiles are in %s?", displayName(first)))

	if first.DateRangeStart != "" && first.DateRangeEnd != "" {
		suggestions = append(suggestions,
			fmt.Sprintf("Show me temperature profiles between %s and %s", first.DateRangeStart, first.DateRangeEnd))
	}

	for _, variable := range first.Variables {
		switch variable {
		case "salinity":
			suggestions = append(suggestions, "What is the average salinity at 100 meters depth?")
		case "dissolved_oxygen":
			suggestions = append(suggestions, "Which floats measured dissolved oxygen?")
		case "chlorophyll":
			suggestions = append(suggestions, "Show chlorophyll concentrations in the top 50 meters")
		case "nitrate":
			suggestions = append(suggestions, "Show nitrate levels by depth")
		case "ph":
			suggestions = append(suggestions, "What are the pH readings below 500 decibars?")
		}
		if len(suggestions) >= maxSuggestions {
			break
		}
	}

	if len(suggestions) < maxSuggestions {
		suggestions = append(suggestions, "Show the latest position of every float")
	}
	if len(suggestions) < 4 {
		for _, fb := range fallbackSuggestions {
			suggestions = append(suggestions, fb)
			if len(suggestions) >= 4 {
				break
			}
		}
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return suggestions
}

func displayName(s storage.DatasetSummary) string {
	if s.Name != "" {
		return s.Name
	}

	return fmt.Sprintf("dataset %d", s.DatasetID)
}

func (s *Suggester) cachedSuggestions(ctx context.Context) []string {
	if s.redis == nil {
		return nil
	}

	raw, err := s.redis.Get(ctx, suggestionsCacheKey).Bytes()
	if err != nil {
		return nil
	}

	var suggestions []string
	if err := json.Unmarshal(raw, &suggestions); err != nil || len(suggestions) == 0 {
		return nil
	}

	return suggestions
}

func (s *Suggester) cacheSuggestions(ctx context.Context, suggestions []string) {
	if s.redis == nil {
		return
	}

	raw, err := json.Marshal(suggestions)
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, suggestionsCacheKey, raw, suggestionsCacheTTL).Err(); err != nil {
		s.logger.Warn("suggestion cache write failed", "error", err)
	}
}

const followUpPrompt = `You suggest follow-up questions for an ocean data chat.
Given the user's question and a summary of the result, propose exactly 3 short
follow-up questions the user might ask next, one per line, no numbering.`

// FollowUps proposes up to three follow-up questions after a result. Any
// failure returns an empty list; follow-ups never block results.
func (s *Suggester) FollowUps(ctx context.Context, nlQuery, interpretation string) []string {
	if s.provider == nil {
		return nil
	}

	prompt := fmt.Sprintf("Question: %s\n\nResult summary: %s", nlQuery, interpretation)

	response, err := s.provider.Chat(ctx, followUpPrompt, llm.UserTurn(prompt))
	if err != nil {
		s.logger.Debug("follow-up generation failed", "error", err)

		return nil
	}

	var followUps []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		followUps = append(followUps, line)
		if len(followUps) == 3 {
			break
		}
	}

	return followUps
}
