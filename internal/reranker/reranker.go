// Package reranker defines the consumed cross-encoder reranking capability.
//
// Reranking runs after hybrid fusion truncated the candidate set, so its
// cost is bounded by k. It reorders results; it never changes membership.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// Reranker scores documents against a query with a cross-encoder. Scores
// are returned in input order; higher is more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

const (
	// DefaultJinaBaseURL is the hosted reranking endpoint.
	DefaultJinaBaseURL = "https://api.jina.ai/v1"
	// DefaultJinaModel is the default reranking model.
	DefaultJinaModel = "jina-reranker-v2-base-multilingual"

	requestTimeout = 30 * time.Second
)

// JinaReranker talks to a Jina-compatible /rerank endpoint.
type JinaReranker struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewJinaReranker creates a reranker for a Jina-compatible API.
func NewJinaReranker(apiKey, baseURL, model string) (*JinaReranker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: reranker api key not set", types.ErrConfiguration)
	}
	if baseURL == "" {
		baseURL = DefaultJinaBaseURL
	}
	if model == "" {
		model = DefaultJinaModel
	}
	return &JinaReranker{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

type jinaRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type jinaRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Detail string `json:"detail"`
}

// Rerank returns one relevance score per document, in input order.
func (r *JinaReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(jinaRerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrReranker, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrReranker, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrReranker, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrReranker, err)
	}

	var parsed jinaRerankResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", types.ErrReranker, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Detail
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", types.ErrReranker, msg)
	}
	if len(parsed.Results) != len(documents) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents", types.ErrReranker, len(parsed.Results), len(documents))
	}

	scores := make([]float64, len(documents))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			return nil, fmt.Errorf("%w: result index %d out of range", types.ErrReranker, res.Index)
		}
		scores[res.Index] = res.RelevanceScore
	}
	return scores, nil
}
