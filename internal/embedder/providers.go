package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// Provider names and defaults.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
	OpenAIDimension      = 1536

	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
	OllamaDimension      = 768

	// MaxBatchSize bounds one provider request.
	MaxBatchSize = 100

	requestTimeout = 30 * time.Second
)

// OpenAIProvider talks to an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client

	initOnce sync.Once
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible API.
// Zero-valued options fall back to defaults.
func NewOpenAIProvider(apiKey, baseURL, model string, dimensions int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", types.ErrConfiguration)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dimensions <= 0 {
		dimensions = OpenAIDimension
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (p *OpenAIProvider) Dimensions() int { return p.dimensions }
func (p *OpenAIProvider) Model() string   { return p.model }

// Initialize is idempotent; the API is stateless so there is nothing to
// warm.
func (p *OpenAIProvider) Initialize(_ context.Context) error {
	p.initOnce.Do(func() {})
	return nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type openAIEmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", types.ErrEmbedder, len(texts), MaxBatchSize)
	}

	body, err := json.Marshal(openAIEmbeddingRequest{
		Input:      texts,
		Model:      p.model,
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", types.ErrEmbedder, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", types.ErrEmbedder, msg)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", types.ErrEmbedder, len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", types.ErrEmbedder, d.Index)
		}
		if len(d.Embedding) != p.dimensions {
			return nil, fmt.Errorf("%w: expected %d dimensions, got %d", types.ErrEmbedder, p.dimensions, len(d.Embedding))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (p *OpenAIProvider) Dispose() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// OllamaProvider talks to a local Ollama server's /api/embed endpoint.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client

	initOnce sync.Once
	initErr  error
}

// NewOllamaProvider creates a provider for a local Ollama server.
func NewOllamaProvider(baseURL, model string, dimensions int) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimensions <= 0 {
		dimensions = OllamaDimension
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (p *OllamaProvider) Dimensions() int { return p.dimensions }
func (p *OllamaProvider) Model() string   { return p.model }

// Initialize warms the model with a throwaway embedding so the first real
// call doesn't pay the load latency. Idempotent.
func (p *OllamaProvider) Initialize(ctx context.Context) error {
	p.initOnce.Do(func() {
		_, p.initErr = p.EmbedBatch(ctx, []string{"warmup"})
	})
	return p.initErr
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedder, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", types.ErrEmbedder, err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", types.ErrEmbedder, msg)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", types.ErrEmbedder, len(parsed.Embeddings), len(texts))
	}
	for _, v := range parsed.Embeddings {
		if len(v) != p.dimensions {
			return nil, fmt.Errorf("%w: expected %d dimensions, got %d", types.ErrEmbedder, p.dimensions, len(v))
		}
	}
	return parsed.Embeddings, nil
}

func (p *OllamaProvider) Dispose() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
