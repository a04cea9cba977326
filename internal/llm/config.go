package llm

import (
	"fmt"
	"time"

	"github.com/floatchat-io/floatchat/internal/config"
)

// Known provider names accepted in LLM_PROVIDER.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderQwen      = "qwen"
)

// Default base URLs for the OpenAI-compatible providers.
const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"
	qwenBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// Config holds provider selection and per-provider credentials.
type Config struct {
	// Provider selects the primary chat provider.
	Provider string

	// Model overrides the provider's default model when set.
	Model string

	AnthropicAPIKey string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	DeepSeekAPIKey  string
	QwenAPIKey      string

	// BaseURL overrides the OpenAI-compatible endpoint, for self-hosted
	// gateways.
	BaseURL string

	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// LoadConfig loads LLM configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Provider:        config.GetEnvStr("LLM_PROVIDER", ProviderAnthropic),
		Model:           config.GetEnvStr("LLM_MODEL", ""),
		AnthropicAPIKey: config.GetEnvStr("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    config.GetEnvStr("GEMINI_API_KEY", ""),
		OpenAIAPIKey:    config.GetEnvStr("OPENAI_API_KEY", ""),
		DeepSeekAPIKey:  config.GetEnvStr("DEEPSEEK_API_KEY", ""),
		QwenAPIKey:      config.GetEnvStr("QWEN_API_KEY", ""),
		BaseURL:         config.GetEnvStr("LLM_BASE_URL", ""),
		Timeout:         config.GetEnvDuration("LLM_TIMEOUT", 60*time.Second),
		MaxTokens:       config.GetEnvInt("LLM_MAX_TOKENS", 4096),
		Temperature:     config.GetEnvFloat("LLM_TEMPERATURE", 0.1),
	}
}

// NewProvider builds the configured provider. Unknown names and missing API
// keys are configuration errors surfaced at startup, not at query time.
func NewProvider(cfg *Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	case ProviderOpenAI:
		return NewOpenAICompatProvider(cfg, ProviderOpenAI, cfg.OpenAIAPIKey, openAIBaseURL, "gpt-4o-mini")
	case ProviderDeepSeek:
		return NewOpenAICompatProvider(cfg, ProviderDeepSeek, cfg.DeepSeekAPIKey, deepSeekBaseURL, "deepseek-chat")
	case ProviderQwen:
		return NewOpenAICompatProvider(cfg, ProviderQwen, cfg.QwenAPIKey, qwenBaseURL, "qwen-plus")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
