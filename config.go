package golineage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/golineage/llm"
)

// Config holds all configuration for the lineage engine.
type Config struct {
	// OutputDir holds the session_* directories written by the upload step.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.golineage/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "golineage".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.golineage/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Persist enables the embedding cache and the run log.
	Persist bool `json:"persist" yaml:"persist"`

	// DebugDir receives the raw model output whenever it cannot be parsed.
	// Empty disables debug files.
	DebugDir string `json:"debug_dir" yaml:"debug_dir"`

	// LLM providers. Chat.Model is the primary chat model.
	Chat          LLMConfig `json:"chat" yaml:"chat"`
	Embedding     LLMConfig `json:"embedding" yaml:"embedding"`
	FallbackModel string    `json:"fallback_model" yaml:"fallback_model"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Chunking
	MaxChars int `json:"max_chars" yaml:"max_chars"`
	Overlap  int `json:"overlap" yaml:"overlap"`

	// Retrieval
	TopK          int `json:"top_k" yaml:"top_k"`
	CellTopK      int `json:"cell_top_k" yaml:"cell_top_k"`
	MaxInputs     int `json:"max_inputs" yaml:"max_inputs"`
	CellMaxInputs int `json:"cell_max_inputs" yaml:"cell_max_inputs"`
	MinPool       int `json:"min_pool" yaml:"min_pool"`
	EmbedBatch    int `json:"embed_batch" yaml:"embed_batch"`
	EmbedWorkers  int `json:"embed_workers" yaml:"embed_workers"`

	// Generation
	MaxTokens     int `json:"max_tokens" yaml:"max_tokens"`
	CellMaxTokens int `json:"cell_max_tokens" yaml:"cell_max_tokens"`
	EvidenceChars int `json:"evidence_chars" yaml:"evidence_chars"`

	// RouteWithModel lets free-text classification ask the chat model when
	// no heuristic applies.
	RouteWithModel bool `json:"route_with_model" yaml:"route_with_model"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider          string  `json:"provider" yaml:"provider"` // openai, openrouter, groq, xai, gemini, lmstudio, ollama, anthropic, custom
	Model             string  `json:"model" yaml:"model"`
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	APIKey            string  `json:"api_key" yaml:"api_key"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

func (c LLMConfig) provider() llm.Config {
	return llm.Config{
		Provider:          c.Provider,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// DefaultConfig returns a Config with the defaults of the hosted OpenAI
// setup. Database is stored in ~/.golineage/golineage.db by default.
func DefaultConfig() Config {
	return Config{
		OutputDir:  "output",
		DBName:     "golineage",
		StorageDir: "home",
		Persist:    true,
		Chat: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o",
			TimeoutSeconds: 120,
		},
		Embedding: LLMConfig{
			Provider:       "openai",
			Model:          "text-embedding-3-small",
			TimeoutSeconds: 120,
		},
		FallbackModel: "gpt-4o-mini",
		EmbeddingDim:  1536,
		MaxChars:      900,
		Overlap:       100,
		TopK:          12,
		CellTopK:      14,
		MaxInputs:     1500,
		CellMaxInputs: 1200,
		MinPool:       300,
		EmbedBatch:    64,
		EmbedWorkers:  4,
		MaxTokens:     1000,
		CellMaxTokens: 1400,
		EvidenceChars: 2400,
	}
}

// LoadConfig reads a YAML (or JSON) file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GOLINEAGE_* environment variables, then
// falls back to the well-known provider key variables for empty API keys.
func (c *Config) ApplyEnv() {
	strs := []struct {
		env string
		dst *string
	}{
		{"GOLINEAGE_OUTPUT_DIR", &c.OutputDir},
		{"GOLINEAGE_DB_PATH", &c.DBPath},
		{"GOLINEAGE_DEBUG_DIR", &c.DebugDir},
		{"GOLINEAGE_CHAT_PROVIDER", &c.Chat.Provider},
		{"GOLINEAGE_CHAT_MODEL", &c.Chat.Model},
		{"GOLINEAGE_CHAT_BASE_URL", &c.Chat.BaseURL},
		{"GOLINEAGE_CHAT_API_KEY", &c.Chat.APIKey},
		{"GOLINEAGE_FALLBACK_MODEL", &c.FallbackModel},
		{"GOLINEAGE_EMBED_PROVIDER", &c.Embedding.Provider},
		{"GOLINEAGE_EMBED_MODEL", &c.Embedding.Model},
		{"GOLINEAGE_EMBED_BASE_URL", &c.Embedding.BaseURL},
		{"GOLINEAGE_EMBED_API_KEY", &c.Embedding.APIKey},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("GOLINEAGE_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDim = n
		}
	}
	if v := os.Getenv("GOLINEAGE_PERSIST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Persist = b
		}
	}

	// Fallback: check well-known provider env vars for API keys.
	for _, lc := range []*LLMConfig{&c.Chat, &c.Embedding} {
		if lc.APIKey != "" {
			continue
		}
		switch lc.Provider {
		case "openai":
			lc.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			lc.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "groq":
			lc.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			lc.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
}

// Validate reports the first invalid field, wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.OutputDir == "":
		return fmt.Errorf("%w: output_dir is required", ErrInvalidConfig)
	case c.Chat.Provider == "" || c.Chat.Model == "":
		return fmt.Errorf("%w: chat provider and model are required", ErrInvalidConfig)
	case c.Embedding.Provider == "" || c.Embedding.Model == "":
		return fmt.Errorf("%w: embedding provider and model are required", ErrInvalidConfig)
	case c.Embedding.Provider == "anthropic":
		return fmt.Errorf("%w: anthropic does not serve embeddings", ErrInvalidConfig)
	case c.Persist && c.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	case c.MaxChars <= 0:
		return fmt.Errorf("%w: max_chars must be positive", ErrInvalidConfig)
	case c.Overlap < 0 || c.Overlap >= c.MaxChars:
		return fmt.Errorf("%w: overlap must be in [0, max_chars)", ErrInvalidConfig)
	case c.TopK <= 0 || c.CellTopK <= 0:
		return fmt.Errorf("%w: top_k and cell_top_k must be positive", ErrInvalidConfig)
	case c.MaxTokens <= 0 || c.CellMaxTokens <= 0:
		return fmt.Errorf("%w: max_tokens and cell_max_tokens must be positive", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "golineage"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".golineage", name+".db")
	}
}
