package embedder

import (
	"fmt"
	"os"
	"strings"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// Environment variables consulted by NewFromEnv.
const (
	EnvProvider     = "DOCPACK_EMBEDDING_PROVIDER"
	EnvModel        = "DOCPACK_EMBEDDING_MODEL"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOpenAIBase   = "OPENAI_BASE_URL"
	EnvOllamaBase   = "OLLAMA_HOST"
)

// Config holds explicit embedder configuration.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	CacheSize  int
	Retry      RetryConfig
}

// New creates an embedder with explicit configuration, wrapped with retry
// and caching decorators.
func New(cfg Config) (Embedder, error) {
	var inner Embedder

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = p
	case ProviderOllama:
		inner = NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrConfiguration, cfg.Provider)
	}

	retry := cfg.Retry
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}
	return NewCached(NewRetrying(inner, retry), cfg.CacheSize), nil
}

// NewFromEnv creates an embedder from environment variables.
// Priority:
//  1. DOCPACK_EMBEDDING_PROVIDER (openai, ollama)
//  2. OPENAI_API_KEY present -> openai
//  3. local ollama otherwise
func NewFromEnv() (Embedder, error) {
	provider := strings.ToLower(os.Getenv(EnvProvider))
	apiKey := os.Getenv(EnvOpenAIAPIKey)

	if provider == "" {
		if apiKey != "" {
			provider = ProviderOpenAI
		} else {
			provider = ProviderOllama
		}
	}

	cfg := Config{
		Provider: provider,
		APIKey:   apiKey,
		Model:    os.Getenv(EnvModel),
	}
	switch provider {
	case ProviderOpenAI:
		cfg.BaseURL = os.Getenv(EnvOpenAIBase)
	case ProviderOllama:
		cfg.BaseURL = os.Getenv(EnvOllamaBase)
	}
	return New(cfg)
}
