package searcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

// keywordEmbedder maps texts onto a tiny deterministic vector space: one
// dimension per known keyword.
type keywordEmbedder struct {
	calls     atomic.Int64
	failEmbed bool
}

var embedKeywords = []string{"paris", "tokyo", "france", "japan"}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(embedKeywords))
	for i, kw := range embedKeywords {
		if strings.Contains(lower, kw) {
			v[i] = 1
		}
	}
	return v
}

func (e *keywordEmbedder) Dimensions() int { return len(embedKeywords) }

func (e *keywordEmbedder) Model() string { return "keyword-test" }

func (e *keywordEmbedder) Initialize(ctx context.Context) error { return nil }

func (e *keywordEmbedder) Dispose() error { return nil }

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.failEmbed {
		return nil, fmt.Errorf("%w: embed failed", types.ErrEmbedder)
	}
	return keywordVector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// stubReranker scores documents by input position, highest last, which
// exactly reverses the fused order.
type stubReranker struct {
	calls atomic.Int64
	fail  bool
}

func (r *stubReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	r.calls.Add(1)
	if r.fail {
		return nil, fmt.Errorf("%w: rerank failed", types.ErrReranker)
	}
	scores := make([]float64, len(documents))
	for i := range documents {
		scores[i] = float64(i)
	}
	return scores, nil
}

// ftsFailingStore makes the keyword leg fail while the vector leg works.
type ftsFailingStore struct {
	storage.Store
}

func (s *ftsFailingStore) FTSSearch(ctx context.Context, query string, limit int, filters *storage.SearchFilters) ([]storage.FTSResult, error) {
	return nil, fmt.Errorf("fts index unavailable")
}

// chunkFailingStore makes every chunk load fail with a fixed error.
type chunkFailingStore struct {
	storage.Store

	loadErr error
}

func (s *chunkFailingStore) GetChunk(ctx context.Context, id int64) (*types.StoredChunk, error) {
	return nil, s.loadErr
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.docpack")
	store, err := storage.Create(path, &types.LibraryMetadata{
		Name: "test-lib",
		Embedding: types.EmbeddingInfo{
			Model:      "keyword-test",
			Dimensions: len(embedKeywords),
		},
		Chunking: types.ChunkingInfo{
			Strategy:  types.StrategyText,
			ChunkSize: 1500,
		},
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addChunk(t *testing.T, store storage.Store, content, sourceFile string, embedding []float32) int64 {
	t.Helper()
	ids, err := store.AddChunks(context.Background(),
		[]types.Chunk{{
			Content:  content,
			Metadata: types.ChunkMetadata{SourceFile: sourceFile, StartLine: 1, EndLine: 1},
		}},
		[][]float32{embedding}, "")
	require.NoError(t, err)
	return ids[0]
}

func citiesStore(t *testing.T) storage.Store {
	t.Helper()
	store := newTestStore(t)
	for _, content := range []string{
		"Paris is the capital of France",
		"Tokyo is the capital of Japan",
	} {
		addChunk(t, store, content, "cities.md", keywordVector(content))
	}
	return store
}

func TestSearchValidatesRequest(t *testing.T) {
	s := New(citiesStore(t), &keywordEmbedder{}, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, Request{Query: "   ", HybridAlpha: 0.5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	_, err = s.Search(ctx, Request{Query: "paris", HybridAlpha: 1.5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	_, err = s.Search(ctx, Request{Query: "paris", HybridAlpha: 0.5, ContextBefore: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))

	// Rerank without a configured reranker
	_, err = s.Search(ctx, Request{Query: "paris", HybridAlpha: 0.5, Rerank: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestHybridSearchEndToEnd(t *testing.T) {
	s := New(citiesStore(t), &keywordEmbedder{}, nil)

	resp, err := s.Search(context.Background(), Request{
		Query:       "What is the capital city of France?",
		K:           5,
		HybridAlpha: 0.5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	top := resp.Results[0]
	assert.Contains(t, top.Content, "Paris")
	assert.Equal(t, 1, top.Rank)
	assert.Empty(t, resp.Warnings)

	resp, err = s.Search(context.Background(), Request{
		Query:       "What is the capital city of Japan?",
		K:           5,
		HybridAlpha: 0.5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Content, "Tokyo")
}

func TestSingleChunkSelfRetrieval(t *testing.T) {
	store := newTestStore(t)
	content := "Paris is the capital of France"
	addChunk(t, store, content, "solo.md", keywordVector(content))

	s := New(store, &keywordEmbedder{}, nil)
	resp, err := s.Search(context.Background(), Request{Query: content, K: 1, HybridAlpha: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, content, resp.Results[0].Content)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
}

func TestPureVectorMatchesVectorLeg(t *testing.T) {
	store := citiesStore(t)
	emb := &keywordEmbedder{}
	s := New(store, emb, nil)
	ctx := context.Background()

	query := "paris france"
	resp, err := s.Search(ctx, Request{Query: query, K: 10, HybridAlpha: 1})
	require.NoError(t, err)

	leg, err := store.VectorSearch(ctx, keywordVector(query), 10, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, len(leg))
	for i, r := range resp.Results {
		assert.Equal(t, leg[i].ChunkID, r.ChunkID)
	}
}

func TestPureLexicalNeverEmbeds(t *testing.T) {
	store := citiesStore(t)
	emb := &keywordEmbedder{failEmbed: true} // would fail if touched
	s := New(store, emb, nil)
	ctx := context.Background()

	resp, err := s.Search(ctx, Request{Query: "Tokyo", K: 10, HybridAlpha: 0})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Content, "Tokyo")
	assert.Equal(t, int64(0), emb.calls.Load())

	leg, err := store.FTSSearch(ctx, "Tokyo", 10, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, len(leg))
	for i, r := range resp.Results {
		assert.Equal(t, leg[i].ChunkID, r.ChunkID)
	}
}

func TestAlphaMonotonicity(t *testing.T) {
	store := newTestStore(t)
	// Chunk A wins on vectors, chunk B wins on keywords.
	idA := addChunk(t, store, "the capital city", "a.md", []float32{0, 0, 1, 0})
	idB := addChunk(t, store, "france france france", "a.md", []float32{0, 0, 0, 1})

	s := New(store, &keywordEmbedder{}, nil)
	ctx := context.Background()

	scoreOf := func(resp *Response, id int64) float64 {
		for _, r := range resp.Results {
			if r.ChunkID == id {
				return r.Score
			}
		}
		return 0
	}

	var prevGap float64 = -2
	for _, alpha := range []float64{0.1, 0.5, 0.9} {
		resp, err := s.Search(ctx, Request{Query: "france", K: 10, HybridAlpha: alpha})
		require.NoError(t, err)

		gap := scoreOf(resp, idA) - scoreOf(resp, idB)
		assert.Greater(t, gap, prevGap, "alpha %g", alpha)
		prevGap = gap
	}

	// Endpoints agree with the single legs
	resp, err := s.Search(ctx, Request{Query: "france", K: 10, HybridAlpha: 1})
	require.NoError(t, err)
	assert.Equal(t, idA, resp.Results[0].ChunkID)

	resp, err = s.Search(ctx, Request{Query: "france", K: 10, HybridAlpha: 0})
	require.NoError(t, err)
	assert.Equal(t, idB, resp.Results[0].ChunkID)
}

func TestContextExpansionClipsAtFileBoundary(t *testing.T) {
	store := newTestStore(t)
	emb := keywordVector("")
	addChunk(t, store, "a one", "a.md", emb)
	addChunk(t, store, "a two", "a.md", emb)
	addChunk(t, store, "a three", "a.md", emb)
	hit := addChunk(t, store, "bridge construction", "b.md", emb)
	addChunk(t, store, "b two", "b.md", emb)

	s := New(store, &keywordEmbedder{}, nil)
	resp, err := s.Search(context.Background(), Request{
		Query:         "bridge",
		K:             1,
		HybridAlpha:   0,
		ContextBefore: 2,
		ContextAfter:  2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, hit, resp.Results[0].ChunkID)

	// Preceding ids belong to a.md, so nothing comes back before the hit;
	// after the hit only b.md's one remaining chunk is in range.
	assert.Empty(t, resp.Results[0].ContextBefore)
	require.Len(t, resp.Results[0].ContextAfter, 1)
	assert.Equal(t, "b two", resp.Results[0].ContextAfter[0].Content)
}

func TestLexicalFailureDegradesToVectorOnly(t *testing.T) {
	store := &ftsFailingStore{Store: citiesStore(t)}
	s := New(store, &keywordEmbedder{}, nil)

	resp, err := s.Search(context.Background(), Request{
		Query:       "capital of France",
		K:           5,
		HybridAlpha: 0.5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Content, "Paris")
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "keyword search failed")
	assert.Zero(t, resp.LexicalCandidates)
}

func TestCorruptChunkAbortsSearch(t *testing.T) {
	store := &chunkFailingStore{
		Store:   citiesStore(t),
		loadErr: fmt.Errorf("%w: code_context is not valid JSON", types.ErrCorrupted),
	}
	s := New(store, &keywordEmbedder{}, nil)

	_, err := s.Search(context.Background(), Request{
		Query:       "capital of France",
		K:           5,
		HybridAlpha: 0.5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCorrupted))
}

func TestUnloadableChunkIsDroppedWithWarning(t *testing.T) {
	store := &chunkFailingStore{
		Store:   citiesStore(t),
		loadErr: fmt.Errorf("disk read failed"),
	}
	s := New(store, &keywordEmbedder{}, nil)

	resp, err := s.Search(context.Background(), Request{
		Query:       "capital of France",
		K:           5,
		HybridAlpha: 0.5,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "failed to load chunk")
}

func TestEmbedderFailureIsFatal(t *testing.T) {
	s := New(citiesStore(t), &keywordEmbedder{failEmbed: true}, nil)

	_, err := s.Search(context.Background(), Request{Query: "paris", K: 5, HybridAlpha: 0.5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEmbedder))
}

func TestRerankReordersTruncatedSet(t *testing.T) {
	store := citiesStore(t)
	rr := &stubReranker{}
	s := New(store, &keywordEmbedder{}, rr)
	ctx := context.Background()

	plain, err := s.Search(ctx, Request{Query: "capital", K: 2, HybridAlpha: 0})
	require.NoError(t, err)
	require.Len(t, plain.Results, 2)

	reranked, err := s.Search(ctx, Request{Query: "capital", K: 2, HybridAlpha: 0, Rerank: true})
	require.NoError(t, err)
	require.Len(t, reranked.Results, 2)
	assert.True(t, reranked.Reranked)
	assert.Equal(t, int64(1), rr.calls.Load())

	// Same membership, reversed order, ranks reassigned
	assert.Equal(t, plain.Results[0].ChunkID, reranked.Results[1].ChunkID)
	assert.Equal(t, plain.Results[1].ChunkID, reranked.Results[0].ChunkID)
	assert.Equal(t, 1, reranked.Results[0].Rank)
	assert.Equal(t, 2, reranked.Results[1].Rank)
}

func TestRerankFailureKeepsFusedOrder(t *testing.T) {
	store := citiesStore(t)
	s := New(store, &keywordEmbedder{}, &stubReranker{fail: true})

	resp, err := s.Search(context.Background(), Request{Query: "capital", K: 2, HybridAlpha: 0, Rerank: true})
	require.NoError(t, err)
	assert.False(t, resp.Reranked)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "reranking failed")
}

func TestContentVersionFilterAppliesBeforeFusion(t *testing.T) {
	store := newTestStore(t)
	content := "Paris is the capital of France"
	emb := keywordVector(content)

	_, err := store.AddChunks(context.Background(),
		[]types.Chunk{{Content: content, Metadata: types.ChunkMetadata{SourceFile: "a.md"}}},
		[][]float32{emb}, "1.0")
	require.NoError(t, err)
	_, err = store.AddChunks(context.Background(),
		[]types.Chunk{{Content: content, Metadata: types.ChunkMetadata{SourceFile: "a.md"}}},
		[][]float32{emb}, "2.0")
	require.NoError(t, err)

	s := New(store, &keywordEmbedder{}, nil)
	resp, err := s.Search(context.Background(), Request{
		Query:          "paris",
		K:              10,
		HybridAlpha:    0.5,
		ContentVersion: "2.0",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "2.0", resp.Results[0].ContentVersion)
}

func TestQueryCache(t *testing.T) {
	emb := &keywordEmbedder{}
	s := New(citiesStore(t), emb, nil)
	ctx := context.Background()
	req := Request{Query: "paris", K: 5, HybridAlpha: 1, UseCache: true}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.Equal(t, int64(1), emb.calls.Load())

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int64(1), emb.calls.Load())
	require.Len(t, second.Results, len(first.Results))

	// Different alpha is a different cache key
	_, err = s.Search(ctx, Request{Query: "paris", K: 5, HybridAlpha: 0.5, UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), emb.calls.Load())

	// Invalidation forces re-execution
	s.InvalidateCache()
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, int64(3), emb.calls.Load())
}
