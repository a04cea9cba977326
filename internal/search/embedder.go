// Package search generates and stores embeddings for dataset summaries and
// float descriptors so the metadata catalog can be searched semantically.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/floatchat-io/floatchat/internal/config"
)

// Embedder errors.
var (
	ErrNoEmbeddings      = errors.New("provider returned no embeddings")
	ErrEmbedderDisabled  = errors.New("no embedding provider configured")
	ErrBatchSizeExceeded = errors.New("embedding batch exceeds the configured maximum")
)

// Embedder turns text into dense vectors.
type Embedder interface {
	// EmbedBatch embeds up to MaxBatchSize texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// MaxBatchSize is the largest batch EmbedBatch accepts.
	MaxBatchSize() int
}

// EmbedderConfig holds embedding provider settings.
type EmbedderConfig struct {
	// Provider selects "gemini" or "openai"; empty disables indexing.
	Provider string

	Model        string
	GeminiAPIKey string
	OpenAIAPIKey string
	BaseURL      string
	BatchSize    int
	Timeout      time.Duration
}

// LoadEmbedderConfig loads embedding configuration from environment variables.
func LoadEmbedderConfig() *EmbedderConfig {
	return &EmbedderConfig{
		Provider:     config.GetEnvStr("EMBEDDING_PROVIDER", ""),
		Model:        config.GetEnvStr("EMBEDDING_MODEL", ""),
		GeminiAPIKey: config.GetEnvStr("GEMINI_API_KEY", ""),
		OpenAIAPIKey: config.GetEnvStr("OPENAI_API_KEY", ""),
		BaseURL:      config.GetEnvStr("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		BatchSize:    config.GetEnvInt("EMBEDDING_BATCH_SIZE", 100),
		Timeout:      config.GetEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
	}
}

// NewEmbedder builds the configured embedder, or ErrEmbedderDisabled when no
// provider is set.
func NewEmbedder(cfg *EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrEmbedderDisabled
	case "gemini":
		return newGeminiEmbedder(cfg)
	case "openai":
		return newOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// geminiEmbedder uses the GenAI embedding API.
type geminiEmbedder struct {
	client    *genai.Client
	model     string
	batchSize int
}

func newGeminiEmbedder(cfg *EmbedderConfig) (*geminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for gemini embeddings")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}

	return &geminiEmbedder{client: client, model: model, batchSize: cfg.BatchSize}, nil
}

func (e *geminiEmbedder) MaxBatchSize() int {
	return e.batchSize
}

func (e *geminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) > e.batchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchSizeExceeded, len(texts), e.batchSize)
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, ErrNoEmbeddings
	}

	vectors := make([][]float64, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vector := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vector[j] = float64(v)
		}
		vectors[i] = vector
	}

	return vectors, nil
}

// openAIEmbedder speaks the OpenAI-compatible /embeddings endpoint.
type openAIEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client
}

func newOpenAIEmbedder(cfg *EmbedderConfig) (*openAIEmbedder, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for openai embeddings")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &openAIEmbedder{
		apiKey:     cfg.OpenAIAPIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      model,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (e *openAIEmbedder) MaxBatchSize() int {
	return e.batchSize
}

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) > e.batchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchSizeExceeded, len(texts), e.batchSize)
	}

	body, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, ErrNoEmbeddings
	}

	vectors := make([][]float64, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, ErrNoEmbeddings
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}
