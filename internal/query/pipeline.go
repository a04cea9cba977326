package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/floatchat-io/floatchat/internal/llm"
)

// Pipeline errors.
var (
	ErrGenerationExhausted = errors.New("SQL generation failed after all attempts")
	ErrNoSQLInResponse     = errors.New("no SQL found in model response")
)

const maxGenerationAttempts = 3

// GenerationResult is the outcome of the NL-to-SQL stage.
type GenerationResult struct {
	SQL          string
	AttemptCount int
	Validation   ValidationResult
}

// Pipeline turns natural-language questions into validated SQL and
// plain-language interpretations.
type Pipeline struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline on the given provider.
func NewPipeline(provider llm.Provider, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		provider: provider,
		logger:   logger.With("component", "nl_pipeline"),
	}
}

// Provider returns the underlying LLM provider.
func (p *Pipeline) Provider() llm.Provider {
	return p.provider
}

// GenerateSQL produces validated SQL for the question, retrying with
// validator feedback up to the attempt budget. Conversation context and the
// geography hint are folded into the prompt. Exhaustion returns the collected
// validation errors; nothing invalid is ever returned as valid.
func (p *Pipeline) GenerateSQL(ctx context.Context, nlQuery string, history []ContextTurn, region *Region) (*GenerationResult, error) {
	turns := buildTurns(nlQuery, history, region)

	var allErrors []string
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		response, err := p.provider.Chat(ctx, SchemaPrompt, turns)
		if err != nil {
			return nil, fmt.Errorf("SQL generation attempt %d failed: %w", attempt, err)
		}

		sqlText, err := ExtractSQL(response)
		if err != nil {
			allErrors = append(allErrors, err.Error())
			turns = appendRetry(turns, response, []string{err.Error()})

			continue
		}

		validation := Validate(sqlText)
		if validation.Valid {
			p.logger.Debug("SQL generated", "attempt", attempt, "tables", validation.Tables)

			return &GenerationResult{
				SQL:          sqlText,
				AttemptCount: attempt,
				Validation:   validation,
			}, nil
		}

		allErrors = append(allErrors, validation.Errors...)
		turns = appendRetry(turns, response, validation.Errors)
		p.logger.Debug("generated SQL rejected", "attempt", attempt, "errors", validation.Errors)
	}

	return nil, fmt.Errorf("%w: %s", ErrGenerationExhausted, strings.Join(allErrors, "; "))
}

func buildTurns(nlQuery string, history []ContextTurn, region *Region) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history)+1)
	for _, h := range history {
		role := llm.RoleUser
		if h.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}

		content := h.Content
		if h.SQL != "" {
			content = fmt.Sprintf("%s\n(SQL used: %s, returned %d rows)", h.Content, h.SQL, h.RowCount)
		}
		turns = append(turns, llm.Turn{Role: role, Content: content})
	}

	prompt := nlQuery
	if hint := region.PromptHint(); hint != "" {
		prompt = hint + "\n\n" + nlQuery
	}

	return append(turns, llm.Turn{Role: llm.RoleUser, Content: prompt})
}

func appendRetry(turns []llm.Turn, response string, errs []string) []llm.Turn {
	return append(turns,
		llm.Turn{Role: llm.RoleAssistant, Content: response},
		llm.Turn{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("[RETRY] Previous SQL was invalid: %s. Generate a corrected query.", strings.Join(errs, "; ")),
		},
	)
}

var (
	sqlFence  = regexp.MustCompile("(?s)```sql\\s*(.*?)```")
	anyFence  = regexp.MustCompile("(?s)```\\s*(.*?)```")
	selectRow = regexp.MustCompile(`(?is)\b(SELECT|WITH)\b.*`)
)

// ExtractSQL pulls the SQL statement out of a model response: a ```sql fence
// first, any fence second, then a raw SELECT/WITH scan as a last resort.
func ExtractSQL(response string) (string, error) {
	if m := sqlFence.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), nil
	}
	if m := anyFence.FindStringSubmatch(response); m != nil {
		candidate := strings.TrimSpace(m[1])
		if selectRow.MatchString(candidate) {
			return candidate, nil
		}
	}
	if m := selectRow.FindString(response); m != "" {
		return strings.TrimSpace(m), nil
	}

	return "", ErrNoSQLInResponse
}

// interpretSampleRows caps how many rows are shown to the interpretation call.
const interpretSampleRows = 20

// Interpret produces a plain-language summary of the result. Failures fall
// back to a deterministic template so the user always gets a response.
func (p *Pipeline) Interpret(ctx context.Context, nlQuery string, result *QueryResult) string {
	sample := result.Rows
	if len(sample) > interpretSampleRows {
		sample = sample[:interpretSampleRows]
	}

	sampleJSON, err := json.Marshal(map[string]any{
		"columns":   result.Columns,
		"rows":      sample,
		"row_count": result.RowCount,
		"truncated": result.Truncated,
	})
	if err != nil {
		return fallbackInterpretation(result)
	}

	prompt := fmt.Sprintf("Question: %s\n\nSQL: %s\n\nResults (sample): %s",
		nlQuery, result.SQL, sampleJSON)

	text, err := p.provider.Chat(ctx, InterpretationPrompt, llm.UserTurn(prompt))
	if err != nil {
		p.logger.Warn("interpretation failed, using fallback", "error", err)

		return fallbackInterpretation(result)
	}

	return text
}

func fallbackInterpretation(result *QueryResult) string {
	if result.RowCount == 0 {
		return "Running your query returned no matching rows."
	}
	if result.Truncated {
		return fmt.Sprintf("Running your query returned %d rows (truncated to the display limit).", result.RowCount)
	}

	return fmt.Sprintf("Running your query returned %d rows.", result.RowCount)
}
