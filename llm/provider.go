package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors returned by providers and the Caller.
var (
	ErrModelCall             = errors.New("llm: model call failed")
	ErrEmbeddingsUnsupported = errors.New("llm: provider does not support embeddings")
	ErrEmptyResponse         = errors.New("llm: empty response")
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // openai, openrouter, groq, xai, gemini, lmstudio, ollama, anthropic, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// RequestsPerSecond throttles outgoing requests client-side. Zero disables.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	// Timeout bounds a single HTTP request. Zero means 120s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// compatDefaults lists the OpenAI-compatible endpoints and their defaults.
var compatDefaults = map[string]struct {
	baseURL    string
	pathPrefix string
	model      string
}{
	"openai":     {"https://api.openai.com", "/v1", ""},
	"openrouter": {"https://openrouter.ai/api", "/v1", ""},
	"groq":       {"https://api.groq.com/openai", "/v1", "llama-3.3-70b-versatile"},
	"xai":        {"https://api.x.ai", "/v1", ""},
	"gemini":     {"https://generativelanguage.googleapis.com/v1beta/openai", "", ""},
	"lmstudio":   {"http://localhost:1234", "/v1", ""},
	"custom":     {"", "/v1", ""},
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	}
	d, ok := compatDefaults[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = d.model
	}
	return &openAICompatProvider{base: newOpenAICompatClientPrefix(cfg, d.pathPrefix)}, nil
}

// newLimiter returns nil when rps is not positive.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 120 * time.Second
	}
	return d
}
