package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpack-mcp/pkg/types"
)

func TestNewJinaRerankerRequiresKey(t *testing.T) {
	_, err := NewJinaReranker("", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestJinaRerankOrdersScoresByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req jinaRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "the query", req.Query)
		require.Len(t, req.Documents, 3)

		// Return results out of order; scores must land on their input index.
		resp := jinaRerankResponse{}
		resp.Results = []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}{
			{Index: 2, RelevanceScore: 0.9},
			{Index: 0, RelevanceScore: 0.1},
			{Index: 1, RelevanceScore: 0.5},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	r, err := NewJinaReranker("test-key", server.URL, "")
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "the query", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, scores)
}

func TestJinaRerankEmptyInput(t *testing.T) {
	r, err := NewJinaReranker("test-key", "http://unused", "")
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestJinaRerankServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad key"}`))
	}))
	defer server.Close()

	r, err := NewJinaReranker("wrong", server.URL, "")
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrReranker))
	assert.Contains(t, err.Error(), "bad key")
}

func TestJinaRerankCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	}))
	defer server.Close()

	r, err := NewJinaReranker("key", server.URL, "")
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrReranker))
}
